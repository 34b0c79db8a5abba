/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metric

import (
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logicahealth/komet-sub049/utils/log"
)

// MetricsPath is the http path serving the registry.
const MetricsPath = "/metrics"

// Server serves a registry over http.
type Server struct {
	listener net.Listener
	srv      *http.Server
	done     chan struct{}
}

// Serve starts serving registry at addr.
func Serve(addr string, registry *prometheus.Registry) (s *Server, err error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen metrics on %s failed", addr)
	}

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s = &Server{
		listener: l,
		srv:      &http.Server{Handler: mux, ReadTimeout: 10 * time.Second},
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", l.Addr().String()).Info("serving metrics")
	return
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the server.
func (s *Server) Close() (err error) {
	err = s.srv.Close()
	<-s.done
	return
}
