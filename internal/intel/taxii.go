// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package intel

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const taxiiAccept = "application/taxii+json;version=2.1"

// TAXII pull timeouts.
const (
	discoveryTimeout = 10 * time.Second
	objectsTimeout   = 20 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PullTAXII fetches STIX objects from a remote TAXII 2.1 server. When
// apiRoot is empty the discovery document is consulted and its first api
// root used, with relative roots resolved against the discovery URL.
func (s *Service) PullTAXII(discoveryURL, apiRoot, collectionID, addedAfter string, headers map[string]string) ([]map[string]any, error) {
	if apiRoot == "" {
		root, err := s.discoverAPIRoot(discoveryURL, headers)
		if err != nil {
			return nil, err
		}
		apiRoot = root
	}

	objectsURL := strings.TrimRight(apiRoot, "/") + "/collections/" + collectionID + "/objects"
	if addedAfter != "" {
		objectsURL += "?added_after=" + url.QueryEscape(addedAfter)
	}

	body, err := s.get(objectsURL, headers, objectsTimeout)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Objects []map[string]any `json:"objects"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse objects envelope: %w", err)
	}
	return envelope.Objects, nil
}

func (s *Service) discoverAPIRoot(discoveryURL string, headers map[string]string) (string, error) {
	body, err := s.get(strings.TrimRight(discoveryURL, "/"), headers, discoveryTimeout)
	if err != nil {
		return "", err
	}
	var discovery struct {
		APIRoots []string `json:"api_roots"`
	}
	if err := json.Unmarshal(body, &discovery); err != nil {
		return "", fmt.Errorf("parse discovery: %w", err)
	}
	if len(discovery.APIRoots) == 0 {
		return "", fmt.Errorf("no api_roots in TAXII discovery at %s", discoveryURL)
	}

	root := discovery.APIRoots[0]
	base, err := url.Parse(discoveryURL)
	if err != nil {
		return root, nil
	}
	ref, err := url.Parse(root)
	if err != nil {
		return "", fmt.Errorf("bad api root %q: %w", root, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (s *Service) get(rawURL string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", taxiiAccept)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
