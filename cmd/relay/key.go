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

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// keyFromStdin is the --key value that reads the blob from standard input.
const keyFromStdin = "-"

// resolveKey returns the key blob from the flag, falling back to RELAY_KEY.
// A flag value of "-" reads one line from in, without echo when in is a
// terminal.
func resolveKey(flagKey string, in io.Reader, prompt io.Writer) (string, error) {
	key := flagKey
	if key == "" {
		key = os.Getenv("RELAY_KEY")
	}

	if key == keyFromStdin {
		var err error
		key, err = readKey(in, prompt)
		if err != nil {
			return "", err
		}
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("key not found. Set RELAY_KEY or use --key flag")
	}
	return key, nil
}

func readKey(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return line, nil
}
