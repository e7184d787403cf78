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
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// AccountStatus is the closed set of values the CA returns for Account.Status.
type AccountStatus string

const (
	AccountValid       AccountStatus = "valid"
	AccountDeactivated AccountStatus = "deactivated"
	AccountRevoked     AccountStatus = "revoked"
)

func decodeAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(s) {
	case AccountValid, AccountDeactivated, AccountRevoked:
		return AccountStatus(s), nil
	default:
		return "", fmt.Errorf("unknown account status %s", s)
	}
}

// OrderStatus is the closed set of values the CA returns for Order.Status.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderReady      OrderStatus = "ready"
	OrderProcessing OrderStatus = "processing"
	OrderValid      OrderStatus = "valid"
	OrderInvalid    OrderStatus = "invalid"
)

func decodeOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderReady, OrderProcessing, OrderValid, OrderInvalid:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("unknown order status %s", s)
	}
}

// AuthorizationStatus is the closed set of values the CA returns for
// Authorization.Status.
type AuthorizationStatus string

const (
	AuthorizationPending     AuthorizationStatus = "pending"
	AuthorizationValid       AuthorizationStatus = "valid"
	AuthorizationInvalid     AuthorizationStatus = "invalid"
	AuthorizationDeactivated AuthorizationStatus = "deactivated"
	AuthorizationExpired     AuthorizationStatus = "expired"
	AuthorizationRevoked     AuthorizationStatus = "revoked"
)

func decodeAuthorizationStatus(s string) (AuthorizationStatus, error) {
	switch AuthorizationStatus(s) {
	case AuthorizationPending, AuthorizationValid, AuthorizationInvalid,
		AuthorizationDeactivated, AuthorizationExpired, AuthorizationRevoked:
		return AuthorizationStatus(s), nil
	default:
		return "", fmt.Errorf("unknown authorization status %s", s)
	}
}

// ChallengeStatus is the closed set of values the CA returns for
// Challenge.Status.
type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeProcessing ChallengeStatus = "processing"
	ChallengeValid      ChallengeStatus = "valid"
	ChallengeInvalid    ChallengeStatus = "invalid"
)

func decodeChallengeStatus(s string) (ChallengeStatus, error) {
	switch ChallengeStatus(s) {
	case ChallengePending, ChallengeProcessing, ChallengeValid, ChallengeInvalid:
		return ChallengeStatus(s), nil
	default:
		return "", fmt.Errorf("unknown challenge status %s", s)
	}
}

// ChallengeType names one of the three built-in challenge methods.
type ChallengeType string

const (
	ChallengeHTTP01    ChallengeType = "http-01"
	ChallengeDNS01     ChallengeType = "dns-01"
	ChallengeTLSALPN01 ChallengeType = "tls-alpn-01"
)

// DirectoryMeta holds the optional "meta" object of an ACME directory.
type DirectoryMeta struct {
	TermsOfService *string
	Website        *string
	CAAIdentities  []string
}

// Directory is the CA's endpoint map, fetched once at Initialise and never
// mutated afterward.
type Directory struct {
	NewNonce   URI
	NewAccount URI
	NewOrder   URI
	RevokeCert URI
	KeyChange  URI
	NewAuthz   URI // optional, zero value if absent
	Meta       *DirectoryMeta
}

func decodeDirectory(b []byte) (*Directory, error) {
	o, err := decodeObject(b)
	if err != nil {
		return nil, err
	}
	d := &Directory{}
	if d.NewNonce, err = uriVal(o, "newNonce"); err != nil {
		return nil, err
	}
	if d.NewAccount, err = uriVal(o, "newAccount"); err != nil {
		return nil, err
	}
	if d.NewOrder, err = uriVal(o, "newOrder"); err != nil {
		return nil, err
	}
	if d.RevokeCert, err = uriVal(o, "revokeCert"); err != nil {
		return nil, err
	}
	if d.KeyChange, err = uriVal(o, "keyChange"); err != nil {
		return nil, err
	}
	if d.NewAuthz, err = optURIVal(o, "newAuthz"); err != nil {
		return nil, err
	}
	meta, err := assocVal(o, "meta")
	if err != nil {
		return nil, err
	}
	if meta != nil {
		m := &DirectoryMeta{}
		if tos, err := optStringVal(meta, "termsOfService"); err != nil {
			return nil, err
		} else if tos != "" {
			m.TermsOfService = &tos
		}
		if ws, err := optStringVal(meta, "website"); err != nil {
			return nil, err
		} else if ws != "" {
			m.Website = &ws
		}
		if caa, err := optStringList(meta, "caaIdentities"); err != nil {
			return nil, err
		} else {
			m.CAAIdentities = caa
		}
		d.Meta = m
	}
	return d, nil
}

// Account is the registered subscriber record.
type Account struct {
	Status                AccountStatus
	Contact               []string
	TermsOfServiceAgreed  bool
	Orders                URI // may be empty: some CAs omit it
	InitialIP             string
	CreatedAt             *time.Time
	// Kid is the account URL the server returned in the Location header on
	// creation or lookup. It is not part of the JSON body.
	Kid URI
}

func decodeAccount(b []byte) (*Account, error) {
	o, err := decodeObject(b)
	if err != nil {
		return nil, err
	}
	a := &Account{}
	statusStr, err := stringVal(o, "status")
	if err != nil {
		return nil, err
	}
	if a.Status, err = decodeAccountStatus(statusStr); err != nil {
		return nil, err
	}
	if a.Contact, err = optStringList(o, "contact"); err != nil {
		return nil, err
	}
	if a.TermsOfServiceAgreed, err = optBool(o, "termsOfServiceAgreed"); err != nil {
		return nil, err
	}
	if a.Orders, err = optURIVal(o, "orders"); err != nil {
		return nil, err
	}
	if ip, err := optStringVal(o, "initialIp"); err != nil {
		return nil, err
	} else {
		a.InitialIP = ip
	}
	if a.CreatedAt, err = decodeRFC3339(o, "createdAt"); err != nil {
		return nil, err
	}
	return a, nil
}

// Identifier is a certificate subject identifier. Only type=dns is accepted.
type Identifier struct {
	Type  string
	Value string
}

func decodeIdentifier(v any) (Identifier, error) {
	o, ok := v.(object)
	if !ok {
		return Identifier{}, fmt.Errorf("identifier is not an object")
	}
	typ, err := stringVal(o, "type")
	if err != nil {
		return Identifier{}, err
	}
	if typ != "dns" {
		return Identifier{}, fmt.Errorf("unsupported identifier type %s", typ)
	}
	val, err := stringVal(o, "value")
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{Type: typ, Value: val}, nil
}

// Order is one certificate issuance attempt.
type Order struct {
	Status         OrderStatus
	Expires        *time.Time
	NotBefore      *time.Time
	NotAfter       *time.Time
	Identifiers    []Identifier
	Authorizations []URI
	Finalize       URI
	Certificate    URI // populated once Status == OrderValid
	Error          *Problem
	// URL is the order's own URL, known from the Location header of the
	// new-order response, not the JSON body.
	URL URI
}

func decodeOrder(b []byte) (*Order, error) {
	o, err := decodeObject(b)
	if err != nil {
		return nil, err
	}
	ord := &Order{}
	statusStr, err := stringVal(o, "status")
	if err != nil {
		return nil, err
	}
	if ord.Status, err = decodeOrderStatus(statusStr); err != nil {
		return nil, err
	}
	if ord.Expires, err = decodeRFC3339(o, "expires"); err != nil {
		return nil, err
	}
	if ord.NotBefore, err = decodeRFC3339(o, "notBefore"); err != nil {
		return nil, err
	}
	if ord.NotAfter, err = decodeRFC3339(o, "notAfter"); err != nil {
		return nil, err
	}
	idList, err := listVal(o, "identifiers")
	if err != nil {
		return nil, err
	}
	for _, v := range idList {
		id, err := decodeIdentifier(v)
		if err != nil {
			return nil, err
		}
		ord.Identifiers = append(ord.Identifiers, id)
	}
	authz, err := optStringList(o, "authorizations")
	if err != nil {
		return nil, err
	}
	if len(authz) == 0 {
		return nil, fmt.Errorf("no authorizations found in order")
	}
	for _, a := range authz {
		ord.Authorizations = append(ord.Authorizations, URI(a))
	}
	if ord.Finalize, err = uriVal(o, "finalize"); err != nil {
		return nil, err
	}
	if ord.Certificate, err = optURIVal(o, "certificate"); err != nil {
		return nil, err
	}
	if errObj, err := assocVal(o, "error"); err != nil {
		return nil, err
	} else if errObj != nil {
		p, err := decodeProblemObject(errObj)
		if err != nil {
			return nil, err
		}
		ord.Error = p
	}
	return ord, nil
}

// Challenge is one method to prove control of an identifier.
type Challenge struct {
	Type      ChallengeType
	URL       URI
	Status    ChallengeStatus
	Token     string
	Validated *time.Time
	Error     *Problem
}

func decodeChallenge(v any) (*Challenge, bool, error) {
	o, ok := v.(object)
	if !ok {
		return nil, false, fmt.Errorf("challenge is not an object")
	}
	typStr, err := stringVal(o, "type")
	if err != nil {
		return nil, false, err
	}
	switch ChallengeType(typStr) {
	case ChallengeHTTP01, ChallengeDNS01, ChallengeTLSALPN01:
	default:
		// unknown challenge types are forward-compatible: logged and skipped.
		log.Printf("acme: skipping unknown challenge type %q", typStr)
		return nil, false, nil
	}
	c := &Challenge{Type: ChallengeType(typStr)}
	if c.URL, err = uriVal(o, "url"); err != nil {
		return nil, false, err
	}
	statusStr, err := stringVal(o, "status")
	if err != nil {
		return nil, false, err
	}
	if c.Status, err = decodeChallengeStatus(statusStr); err != nil {
		return nil, false, err
	}
	if c.Token, err = stringVal(o, "token"); err != nil {
		return nil, false, err
	}
	if c.Validated, err = decodeRFC3339(o, "validated"); err != nil {
		return nil, false, err
	}
	if errObj, err := assocVal(o, "error"); err != nil {
		return nil, false, err
	} else if errObj != nil {
		p, err := decodeProblemObject(errObj)
		if err != nil {
			return nil, false, err
		}
		c.Error = p
	}
	return c, true, nil
}

// Authorization proves control of one identifier.
type Authorization struct {
	Identifier Identifier
	Status     AuthorizationStatus
	Expires    *time.Time
	Challenges []*Challenge
	Wildcard   bool
}

func decodeAuthorization(b []byte) (*Authorization, error) {
	o, err := decodeObject(b)
	if err != nil {
		return nil, err
	}
	a := &Authorization{}
	idObj, err := assocVal(o, "identifier")
	if err != nil {
		return nil, err
	}
	if idObj == nil {
		return nil, fmt.Errorf("missing required field %q", "identifier")
	}
	if a.Identifier, err = decodeIdentifier(idObj); err != nil {
		return nil, err
	}
	statusStr, err := stringVal(o, "status")
	if err != nil {
		return nil, err
	}
	if a.Status, err = decodeAuthorizationStatus(statusStr); err != nil {
		return nil, err
	}
	if a.Expires, err = decodeRFC3339(o, "expires"); err != nil {
		return nil, err
	}
	if a.Wildcard, err = optBool(o, "wildcard"); err != nil {
		return nil, err
	}
	chalList, err := listVal(o, "challenges")
	if err != nil {
		return nil, err
	}
	for _, v := range chalList {
		c, ok, err := decodeChallenge(v)
		if err != nil {
			return nil, err
		}
		if ok {
			a.Challenges = append(a.Challenges, c)
		}
	}
	return a, nil
}

// marshalCompact serializes v with no surrounding whitespace and without
// HTML-escaping — the canonical form the JWS signer needs for protected
// headers and payloads (spec.md 4.1, invariant 1 in 8). json.Marshal
// itself always HTML-escapes '<', '>', and '&', so this goes through an
// Encoder with that turned off instead.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
