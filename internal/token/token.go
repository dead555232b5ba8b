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

// Package token derives the short-lived authentication token written to
// the mailbox on every trigger.
//
// The token is HMAC-SHA256 over the current 10-second time bucket, encoded
// as a 4-byte big-endian integer, then base64 encoded twice. The second
// encoding only hides the fact that the payload is a digest; it adds no
// cryptographic strength. It is kept because the deployed device firmware
// expects exactly this format: the outer layer is consumed as the contents
// API transport encoding, leaving base64(mac) in the mailbox file.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
)

// BucketSeconds is the width of the window a token is valid for.
const BucketSeconds = 10

// Bucket returns the time bucket containing nowEpochSeconds, flooring
// toward negative infinity.
func Bucket(nowEpochSeconds int64) int64 {
	b := nowEpochSeconds / BucketSeconds
	if nowEpochSeconds%BucketSeconds < 0 {
		b--
	}
	return b
}

// Generate computes the token for secret at nowEpochSeconds. It is pure:
// two calls in the same bucket return the same token.
func Generate(secret []byte, nowEpochSeconds int64) string {
	var bucket [4]byte
	// The wire format is 4 bytes; buckets past 2^32 wrap.
	binary.BigEndian.PutUint32(bucket[:], uint32(Bucket(nowEpochSeconds))) // #nosec G115

	mac := hmac.New(sha256.New, secret)
	mac.Write(bucket[:])

	inner := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(inner))
}
