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
	"crypto/tls"
	"net/http"
	"time"

	"github.com/certifi/gocertifi"
)

// NewHTTPClient builds an *http.Client whose TLS verification is rooted in
// the Certifi CA bundle rather than the host OS's trust store, so a
// directory endpoint's certificate is verified the same way regardless of
// the container base image it runs in (spec.md Open Question 3). Adapted
// from the teacher's http.go init().
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	certPool, err := gocertifi.CACerts()
	if err != nil {
		return nil, msgError("load certifi CA bundle: %v", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: certPool},
		},
	}, nil
}
