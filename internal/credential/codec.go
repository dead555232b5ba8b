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

package credential

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

const (
	fieldSeparator = "&"
	fieldCount     = 5

	// maxDecompressed bounds the inflated blob so a hostile link cannot
	// exhaust memory.
	maxDecompressed = 64 * 1024
)

// Decode turns a key blob into a Credential. Every failure is a
// *errors.CredentialError naming the stage that rejected the blob.
func Decode(blob string) (*Credential, error) {
	compressed, err := decodeBase64URL(strings.TrimSpace(blob))
	if err != nil {
		return nil, &relayerrors.CredentialError{Stage: "base64 blob", Err: err}
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &relayerrors.CredentialError{Stage: "zlib header", Err: err}
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
	if err != nil {
		return nil, &relayerrors.CredentialError{Stage: "zlib stream", Err: err}
	}
	if len(raw) > maxDecompressed {
		return nil, &relayerrors.CredentialError{Stage: "zlib stream", Err: fmt.Errorf("exceeds %d bytes", maxDecompressed)}
	}
	if !utf8.Valid(raw) {
		return nil, &relayerrors.CredentialError{Stage: "utf-8 text"}
	}

	fields := strings.Split(string(raw), fieldSeparator)
	if len(fields) != fieldCount {
		return nil, &relayerrors.CredentialError{
			Stage: "field count",
			Err:   fmt.Errorf("got %d fields, want %d", len(fields), fieldCount),
		}
	}

	secret, err := decodeBase64URL(fields[1])
	if err != nil {
		return nil, &relayerrors.CredentialError{Stage: "base64 hmac secret", Err: err}
	}

	return &Credential{
		accessToken: fields[0],
		hmacSecret:  secret,
		ref: rendezvous.Ref{
			Owner: fields[2],
			Repo:  fields[3],
			Path:  fields[4],
		},
	}, nil
}

// Encode builds the key blob for c. The separator may not appear in any
// text field, since the format has no escaping.
func Encode(c *Credential) (string, error) {
	ref := c.Ref()
	for name, value := range map[string]string{
		"access token": c.accessToken,
		"owner":        ref.Owner,
		"repo":         ref.Repo,
		"path":         ref.Path,
	} {
		if strings.Contains(value, fieldSeparator) {
			return "", fmt.Errorf("%s contains %q", name, fieldSeparator)
		}
	}

	text := strings.Join([]string{
		c.accessToken,
		base64.URLEncoding.EncodeToString(c.hmacSecret),
		ref.Owner,
		ref.Repo,
		ref.Path,
	}, fieldSeparator)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("failed to compress credential: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress credential: %w", err)
	}

	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeBase64URL accepts the URL-safe alphabet with or without padding;
// links are frequently shared with the trailing '=' stripped.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}
