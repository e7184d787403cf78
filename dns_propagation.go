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
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// WaitForDNSPropagation polls every authoritative nameserver for fqdn's
// zone until each one answers the dns-01 TXT record with value, or ctx is
// done. Adapted from the teacher's monitorDNSPropagation: same
// publicsuffix-derived nameserver discovery and same per-nameserver
// goroutine fan-out, generalized to accept a caller context instead of a
// hardcoded timeout.
func WaitForDNSPropagation(ctx context.Context, fqdn, value string) error {
	client := new(dns.Client)
	client.Net = "tcp"
	client.Timeout = 10 * time.Second

	suffix, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(fqdn, "."))
	if err != nil {
		return msgError("determine zone for %s: %v", fqdn, err)
	}
	nsHosts, err := net.LookupNS(dns.Fqdn(suffix))
	if err != nil {
		return msgError("lookup nameservers for %s: %v", suffix, err)
	}
	if len(nsHosts) == 0 {
		return msgError("no nameservers found for %s", suffix)
	}
	var nameservers []string
	for _, ns := range nsHosts {
		nameservers = append(nameservers, net.JoinHostPort(ns.Host, "53"))
	}

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	q.SetEdns0(4096, false)
	q.RecursionDesired = false

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, ns := range nameservers {
		wg.Add(1)
		go func(ns string) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				in, _, err := client.Exchange(q, ns)
				if err != nil || len(in.Answer) == 0 {
					time.Sleep(time.Second)
					continue
				}
				for _, rr := range in.Answer {
					if txt, ok := rr.(*dns.TXT); ok && strings.Join(txt.Txt, "") == value {
						return
					}
				}
				time.Sleep(time.Second)
			}
		}(ns)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return msgError("timeout waiting for %s DNS propagation: %v", fqdn, ctx.Err())
	}
}
