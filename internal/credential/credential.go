// Copyright 2025 SirSeer, LLC
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://mariadb.com/bsl11
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credential decodes and encodes the key blob embedded in a
// trigger link. A blob bundles the GitHub access token, the HMAC secret
// shared with the device, and the address of the mailbox file:
//
//	base64url( zlib( token & base64url(secret) & owner & repo & path ) )
//
// Compression plus base64 only hides the secrets from casual inspection of
// a shared link. It is obfuscation, not encryption: anyone holding the
// link holds the credentials.
package credential

import (
	"bytes"

	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

// Credential holds everything a session needs to trigger one device.
// It is immutable after decoding. Its formatting methods redact the secrets
// so a credential can never leak through logs or error messages.
type Credential struct {
	accessToken string
	hmacSecret  []byte
	ref         rendezvous.Ref
}

// New builds a credential from discrete fields.
func New(accessToken string, hmacSecret []byte, ref rendezvous.Ref) *Credential {
	return &Credential{
		accessToken: accessToken,
		hmacSecret:  bytes.Clone(hmacSecret),
		ref:         ref,
	}
}

// AccessToken returns the GitHub token suffix carried in the blob.
func (c *Credential) AccessToken() string { return c.accessToken }

// HMACSecret returns a copy of the secret shared with the device.
func (c *Credential) HMACSecret() []byte { return bytes.Clone(c.hmacSecret) }

// Ref returns the mailbox address.
func (c *Credential) Ref() rendezvous.Ref { return c.ref }

// Equal reports whether two credentials carry identical fields.
func (c *Credential) Equal(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.accessToken == other.accessToken &&
		bytes.Equal(c.hmacSecret, other.hmacSecret) &&
		c.ref == other.ref
}

// String redacts the secrets.
func (c *Credential) String() string {
	return "credential{" + c.ref.String() + " token=[redacted] secret=[redacted]}"
}

// GoString redacts the secrets from %#v.
func (c *Credential) GoString() string { return c.String() }
