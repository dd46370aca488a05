// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package centrallink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ipLookupEndpoints is tried in order; the first response containing a
// dotted-quad IPv4 wins.
var ipLookupEndpoints = []string{
	"https://api.ipify.org",
	"https://checkip.amazonaws.com",
	"https://icanhazip.com",
	"https://ifconfig.me/ip",
}

const ipLookupUserAgent = "teskerti-station-node/1.0"

var ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// detectPublicIP queries the lookup endpoints with a per-endpoint timeout
// and returns the first IPv4 found. An empty string with an error means
// every endpoint failed; the caller treats the address as unknown.
func detectPublicIP(ctx context.Context, client *http.Client) (string, error) {
	if client == nil {
		client = &http.Client{}
	}

	var errs []error
	for _, endpoint := range ipLookupEndpoints {
		ip, err := fetchIP(ctx, client, endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}
		return ip, nil
	}
	return "", errors.Join(errs...)
}

func fetchIP(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", ipLookupUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}

	ip := ipv4Pattern.FindString(strings.TrimSpace(string(body)))
	if ip == "" {
		return "", fmt.Errorf("no IPv4 in response %q", strings.TrimSpace(string(body)))
	}
	return ip, nil
}
