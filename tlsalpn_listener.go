// Copyright 2016 Google Inc. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package acme

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fallbackCertManager hot-reloads an operator-supplied certificate/key
// pair from disk, so a TLS-ALPN-01 listener can keep serving ordinary
// HTTPS traffic between renewals. Adapted from the teacher's
// tls-app/certificate-manager.go CertificateManager: same fsnotify-backed
// reload loop, same RWMutex-guarded swap.
type fallbackCertManager struct {
	mu          sync.RWMutex
	certFile    string
	keyFile     string
	certificate *tls.Certificate
	Errors      chan error
	watcher     *fsnotify.Watcher
}

// newFallbackCertManager loads certFile/keyFile and starts watching them
// for changes.
func newFallbackCertManager(certFile, keyFile string) (*fallbackCertManager, error) {
	cm := &fallbackCertManager{
		certFile: certFile,
		keyFile:  keyFile,
		Errors:   make(chan error, 10),
	}
	if err := cm.reload(); err != nil {
		return nil, err
	}
	go cm.watch()
	return cm, nil
}

func (cm *fallbackCertManager) get() *tls.Certificate {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.certificate
}

func (cm *fallbackCertManager) reload() error {
	c, err := tls.LoadX509KeyPair(cm.certFile, cm.keyFile)
	if err != nil {
		return msgError("load fallback certificate: %v", err)
	}
	cm.mu.Lock()
	cm.certificate = &c
	cm.mu.Unlock()
	return nil
}

func (cm *fallbackCertManager) watch() {
	if err := cm.newWatcher(); err != nil {
		cm.Errors <- err
		return
	}
	for {
		select {
		case <-cm.watcher.Events:
			if err := cm.reload(); err != nil {
				cm.Errors <- err
			}
			if err := cm.resetWatcher(); err != nil {
				cm.Errors <- err
			}
		case err := <-cm.watcher.Errors:
			cm.Errors <- err
		}
	}
}

func (cm *fallbackCertManager) newWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return msgError("create fsnotify watcher: %v", err)
	}
	if err := w.Add(cm.certFile); err != nil {
		return msgError("watch cert file: %v", err)
	}
	if err := w.Add(cm.keyFile); err != nil {
		return msgError("watch key file: %v", err)
	}
	cm.watcher = w
	return nil
}

func (cm *fallbackCertManager) resetWatcher() error {
	if err := cm.watcher.Close(); err != nil {
		return err
	}
	return cm.newWatcher()
}

// ALPNListenerConfig builds a *tls.Config suitable for a :443 listener
// that must serve both ordinary HTTPS traffic and tls-alpn-01 challenges
// on the same port. The returned registry maps domain -> the certificate to
// present when the ClientHello offers acme-tls/1 for that domain; a Solver
// from ALPNSolverFor adds the entry in Provision and removes it in
// Cleanup. fallbackCertFile/fallbackKeyFile are reloaded from disk on
// change, the way the teacher's CertificateManager does, so the listener
// can keep serving regular traffic across certificate renewals.
func ALPNListenerConfig(fallbackCertFile, fallbackKeyFile string) (*tls.Config, *ALPNChallengeRegistry, error) {
	fallback, err := newFallbackCertManager(fallbackCertFile, fallbackKeyFile)
	if err != nil {
		return nil, nil, err
	}
	reg := &ALPNChallengeRegistry{certs: map[string]*tls.Certificate{}}

	cfg := &tls.Config{
		NextProtos: []string{ACMETLS1Protocol, "h2", "http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			for _, proto := range hello.SupportedProtos {
				if proto == ACMETLS1Protocol {
					if cert := reg.get(hello.ServerName); cert != nil {
						return cert, nil
					}
					return nil, msgError("no tls-alpn-01 challenge provisioned for %s", hello.ServerName)
				}
			}
			return fallback.get(), nil
		},
	}
	return cfg, reg, nil
}

// ALPNChallengeRegistry holds the in-flight tls-alpn-01 challenge
// certificates a listener built by ALPNListenerConfig should present.
type ALPNChallengeRegistry struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

func (r *ALPNChallengeRegistry) get(domain string) *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.certs[domain]
}

func (r *ALPNChallengeRegistry) put(domain string, cert *tls.Certificate) {
	r.mu.Lock()
	r.certs[domain] = cert
	r.mu.Unlock()
}

func (r *ALPNChallengeRegistry) remove(domain string) {
	r.mu.Lock()
	delete(r.certs, domain)
	r.mu.Unlock()
}

// ALPNSolverFor builds a Solver (see solver.go) that generates the
// challenge certificate and registers it with reg, so a listener built by
// ALPNListenerConfig serves it automatically, removing it again once the
// authorization is done.
func ALPNSolverFor(reg *ALPNChallengeRegistry) Solver {
	return &funcSolver{
		typ: ChallengeTLSALPN01,
		provide: func(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error {
			cert, err := ALPNChallengeCertificate(id.Value, keyAuth)
			if err != nil {
				return err
			}
			reg.put(id.Value, cert)
			return nil
		},
		teardown: func(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error {
			reg.remove(id.Value)
			return nil
		},
	}
}
