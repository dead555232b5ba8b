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

package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/giterror"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

// ContentsClient implements rendezvous.Channel on the GitHub REST
// repository contents API. The version tag is the file's blob sha.
type ContentsClient struct {
	httpClient *http.Client
	endpoint   string
	inspector  giterror.Inspector
}

// NewContentsClient creates a contents client for the REST API rooted at
// endpoint, e.g. https://api.github.com.
func NewContentsClient(httpClient *http.Client, endpoint string) *ContentsClient {
	return &ContentsClient{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		inspector:  giterror.NewInspector(),
	}
}

// Get implements rendezvous.Channel.
func (c *ContentsClient) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(ref), nil)
	if err != nil {
		return nil, &relayerrors.TransportError{Op: "get", Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, giterror.Classify(c.inspector, &relayerrors.TransportError{Op: "get", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, giterror.Classify(c.inspector, responseError("get", resp))
	}

	var file fileContent
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, &relayerrors.TransportError{
			Op:     "get",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decode contents response: %w", err),
		}
	}

	content, err := decodeFileContent(file)
	if err != nil {
		return nil, &relayerrors.TransportError{Op: "get", Status: resp.StatusCode, Err: err}
	}

	return &rendezvous.Snapshot{
		Version: rendezvous.Version(file.SHA),
		Content: content,
		Status:  resp.StatusCode,
	}, nil
}

// Put implements rendezvous.Channel. payload is sent as the request's
// content field unchanged, so it must already be base64.
func (c *ContentsClient) Put(ctx context.Context, ref rendezvous.Ref, payload string, version rendezvous.Version, message string) (int, error) {
	body, err := json.Marshal(updateFileRequest{
		Message: message,
		Content: payload,
		SHA:     string(version),
	})
	if err != nil {
		return 0, &relayerrors.TransportError{Op: "put", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(ref), bytes.NewReader(body))
	if err != nil {
		return 0, &relayerrors.TransportError{Op: "put", Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, giterror.Classify(c.inspector, &relayerrors.TransportError{Op: "put", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, giterror.Classify(c.inspector, responseError("put", resp))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *ContentsClient) contentsURL(ref rendezvous.Ref) string {
	segments := strings.Split(strings.Trim(ref.Path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.endpoint, url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), strings.Join(segments, "/"))
}

// decodeFileContent returns the file text. GitHub wraps base64 content at
// 60 columns.
func decodeFileContent(file fileContent) (string, error) {
	if file.Type != "" && file.Type != "file" {
		return "", fmt.Errorf("%s is a %s, not a file", file.Path, file.Type)
	}
	switch file.Encoding {
	case "base64":
		clean := strings.NewReplacer("\n", "", "\r", "").Replace(file.Content)
		decoded, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return "", fmt.Errorf("decode file content: %w", err)
		}
		return string(decoded), nil
	case "":
		return file.Content, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", file.Encoding)
	}
}

// responseError builds a TransportError from a non-success response,
// carrying GitHub's message when the body has one.
func responseError(op string, resp *http.Response) error {
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(raw, &body) != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
	}

	var err error
	if body.Message != "" {
		err = errors.New(body.Message)
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" &&
		(resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests) {
		if err == nil {
			err = relayerrors.ErrRateLimit
		} else {
			err = fmt.Errorf("%w: %w", err, relayerrors.ErrRateLimit)
		}
	}

	return &relayerrors.TransportError{Op: op, Status: resp.StatusCode, Err: err}
}
