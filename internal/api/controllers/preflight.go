package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var errSizeUnknown = errors.New("origin did not report a size")

// preflightSize learns the artifact size before a task exists. HEAD first;
// origins that won't answer it get a one-byte ranged GET whose Content-Range
// carries the total.
func preflightSize(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD pre-flight: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 && resp.ContentLength > 0 {
		return resp.ContentLength, nil
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err = client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ranged pre-flight: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if size, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
		return size, nil
	}
	return 0, errSizeUnknown
}

// parseContentRangeTotal extracts N from "bytes 0-0/N".
func parseContentRangeTotal(header string) (int64, bool) {
	idx := strings.LastIndex(header, "/")
	if idx == -1 {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[idx+1:]), 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}
