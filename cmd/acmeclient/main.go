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

// Command acmeclient requests one certificate from an RFC 8555 CA using
// the acme package, solving challenges with the print-and-wait interactive
// solvers. It exists to exercise the library end to end; production
// callers are expected to wire their own Solver instead of waiting on a
// terminal.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/kelseyhightower/acmecore"
)

var (
	dataDir      = "/var/lib/acmeclient"
	discoveryURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
	email        = ""
	domains      = ""
	challenge    = "http-01"
)

func main() {
	flag.StringVar(&dataDir, "data-dir", dataDir, "Data directory path for keys, the certificate, and the account cache.")
	flag.StringVar(&discoveryURL, "acme-url", discoveryURL, "ACME directory URL.")
	flag.StringVar(&email, "email", email, "Contact email for the ACME account.")
	flag.StringVar(&domains, "domains", domains, "Comma-separated list of DNS names to request a certificate for.")
	flag.StringVar(&challenge, "challenge", challenge, "Challenge type to solve: http-01, dns-01, or tls-alpn-01.")
	flag.Parse()

	if domains == "" {
		log.Fatal("at least one -domains value is required")
	}
	names := strings.Split(domains, ",")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		log.Fatal(err)
	}

	log.Println("Starting ACME client...")

	hc, err := acme.NewHTTPClient(15 * time.Second)
	if err != nil {
		log.Fatal(err)
	}

	accountKey, err := loadOrCreateAccountKey(path.Join(dataDir, "account.key"))
	if err != nil {
		log.Fatal(err)
	}

	cache, err := acme.OpenAccountCache(path.Join(dataDir, "accounts.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	ctx := context.Background()
	client, err := acme.InitialiseCached(ctx, hc, discoveryURL, email, accountKey, cache)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Account ready: %s", client.Account.Kid)

	certKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatal(err)
	}
	csrTmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, csrTmpl, certKey)
	if err != nil {
		log.Fatal(err)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		log.Fatal(err)
	}

	solver := solverFor(challenge)

	log.Println("Solving authorizations and requesting certificate...")
	chain, err := client.SignCertificate(ctx, solver, nil, csr)
	if err != nil {
		log.Fatal(err)
	}

	certPath := path.Join(dataDir, "certificate.pem")
	if err := writeChain(certPath, chain); err != nil {
		log.Fatal(err)
	}
	keyPath := path.Join(dataDir, "certificate.key")
	if err := writeKey(keyPath, certKey); err != nil {
		log.Fatal(err)
	}
	log.Printf("Certificate issued: %s (%s)", certPath, keyPath)
}

func solverFor(typ string) acme.Solver {
	switch typ {
	case "dns-01":
		return acme.PrintDNSSolver()
	case "tls-alpn-01":
		return acme.PrintALPNSolver()
	default:
		return acme.PrintHTTPSolver()
	}
}

func loadOrCreateAccountKey(path string) (*rsa.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("decode account key PEM at %s", path)
		}
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func writeKey(path string, key *rsa.PrivateKey) error {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

func writeChain(path string, chain []*x509.Certificate) error {
	var out []byte
	for _, cert := range chain {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	return os.WriteFile(path, out, 0644)
}
