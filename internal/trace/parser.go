package trace

import (
	"fmt"
	"strconv"
	"strings"

	"nettally/internal/model"
)

// maxErrLineLen bounds how much of a bad line ends up in logs, so a
// subprocess spewing garbage cannot grow log volume without limit.
const maxErrLineLen = 100

// ParseError reports a malformed trace line. Parse errors are non-fatal:
// the collector logs them and drops the line.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed trace line %q: %s", e.Line, e.Reason)
}

func parseError(line, reason string) *ParseError {
	if len(line) > maxErrLineLen {
		line = line[:maxErrLineLen]
	}
	return &ParseError{Line: line, Reason: reason}
}

// ParseLine turns one line of the accounting tool's trace output into a
// RateSample. The grammar is whitespace-separated key=value tokens: an
// app=<name> field followed by one or more endpoint triples
// addr=<a1[,a2,...]> sent=<kbps>[KB/s] recv=<kbps>[KB/s].
//
// Blank lines and the tool's periodic "Refreshing" markers return (nil, nil)
// and are skipped silently. Anything else that does not fit the grammar
// returns a *ParseError.
func ParseLine(line string) (*model.RateSample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "Refreshing") {
		return nil, nil
	}

	tokens := strings.Fields(line)
	if len(tokens) < 4 || (len(tokens)-1)%3 != 0 {
		return nil, parseError(line, "wrong token count")
	}

	app, ok := strings.CutPrefix(tokens[0], "app=")
	if !ok || app == "" {
		return nil, parseError(line, "missing app field")
	}

	sample := &model.RateSample{App: app}
	for i := 1; i < len(tokens); i += 3 {
		addrList, ok := strings.CutPrefix(tokens[i], "addr=")
		if !ok {
			return nil, parseError(line, "missing addr field")
		}
		addrs := splitAddrs(addrList)
		if len(addrs) == 0 {
			return nil, parseError(line, "empty addr field")
		}

		sentTok, ok := strings.CutPrefix(tokens[i+1], "sent=")
		if !ok {
			return nil, parseError(line, "missing sent field")
		}
		recvTok, ok := strings.CutPrefix(tokens[i+2], "recv=")
		if !ok {
			return nil, parseError(line, "missing recv field")
		}

		sent, err := parseRate(sentTok)
		if err != nil {
			return nil, parseError(line, "bad sent rate")
		}
		recv, err := parseRate(recvTok)
		if err != nil {
			return nil, parseError(line, "bad recv rate")
		}

		sample.Endpoints = append(sample.Endpoints, model.EndpointRate{
			Addrs:    addrs,
			SentKBps: sent,
			RecvKBps: recv,
		})
	}

	return sample, nil
}

// splitAddrs splits a comma-separated address list, dropping empty entries.
func splitAddrs(list string) []string {
	var addrs []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// parseRate parses a KB/s value, with or without the unit suffix.
func parseRate(v string) (float64, error) {
	v = strings.TrimSuffix(v, "KB/s")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative rate %f", f)
	}
	return f, nil
}
