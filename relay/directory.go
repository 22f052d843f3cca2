package relay

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yllada/relayhop/common"
)

// Columns the directory feed must carry. The feed is line-oriented tabular
// text: a '*'-prefixed comment marker on the first and last lines, then a
// '#'-prefixed header row, then one CSV row per relay.
const (
	colIP         = "IP"
	colCountry    = "CountryLong"
	colCode       = "CountryShort"
	colConfigBlob = "OpenVPN_ConfigData_Base64"
)

// FetchDirectory retrieves and parses the relay directory. The returned
// candidates preserve feed order, which the upstream source pre-ranks.
// Fetch or format failures return ErrDirectoryUnavailable; individual
// malformed rows are logged and dropped.
func FetchDirectory(ctx context.Context, url string) ([]*Candidate, error) {
	body, err := FetchFeed(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseDirectory(body)
}

// FetchFeed retrieves the raw directory feed. Callers that want to cache
// the feed use this together with ParseDirectory.
func FetchFeed(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, common.DirectoryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, err.Error())
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, common.WrapError(common.ErrDirectoryUnavailable,
			fmt.Sprintf("directory returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, err.Error())
	}
	return body, nil
}

// ParseDirectory parses raw feed text into candidates.
func ParseDirectory(body []byte) ([]*Candidate, error) {
	var rows []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "*") {
			continue // header/trailer comment markers
		}
		rows = append(rows, line)
	}
	if len(rows) < 2 {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, "feed has no data rows")
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(rows, "\n")))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, err.Error())
	}
	header[0] = strings.TrimPrefix(header[0], "#")

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{colIP, colCountry, colCode, colConfigBlob} {
		if _, ok := idx[required]; !ok {
			return nil, common.WrapError(common.ErrDirectoryUnavailable, "feed missing column "+required)
		}
	}

	var cands []*Candidate
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, common.WrapError(common.ErrDirectoryUnavailable, err.Error())
		}
		if len(record) <= idx[colConfigBlob] {
			common.LogWarn("directory: dropping short row (%d fields)", len(record))
			continue
		}

		cfg, err := base64.StdEncoding.DecodeString(record[idx[colConfigBlob]])
		if err != nil {
			common.LogWarn("directory: dropping row %s: bad config encoding", record[idx[colIP]])
			continue
		}

		cand, err := newCandidate(record[idx[colIP]], record[idx[colCountry]], record[idx[colCode]], cfg)
		if err != nil {
			common.LogWarn("directory: dropping row %s: %v", record[idx[colIP]], err)
			continue
		}
		cands = append(cands, cand)
	}

	if len(cands) == 0 {
		return nil, common.WrapError(common.ErrDirectoryUnavailable, "feed yielded no usable relays")
	}
	return cands, nil
}
