package main

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ckpool writes human-readable lines with an optional bracketed timestamp, a
// keyword, and (for snapshots) a JSON payload. Addresses may arrive truncated
// ("bc1qabcd..."), and some Authorised/Dropped lines omit the worker label
// entirely; those fall back to a placeholder worker so the wallet still shows
// presence.
const fallbackWorkerName = "X"

const (
	logAddrPattern   = `(?:[13][a-km-zA-HJ-NP-Z1-9]{5,}|[tb]?c1[0-9ac-hj-np-z]{5,})(?:\.\.\.)?`
	logWorkerPattern = `[A-Za-z0-9_\-\.]{1,64}`
	logTSPattern     = `(?:\[([\d\-:\. ]+)\]\s*)?`
)

var (
	poolLineRE = regexp.MustCompile(`^` + logTSPattern + `Pool:\s*(\{.*\})\s*$`)
	userLineRE = regexp.MustCompile(`^` + logTSPattern + `User\s+(` + logAddrPattern + `)\s*:?\s*(\{.*\})\s*$`)

	authLineRE = regexp.MustCompile(`^` + logTSPattern +
		`Authorised\s+client\s+\d+\s+\S+\s+worker\s+(` + logAddrPattern + `)\.(` + logWorkerPattern + `)\s+as\s+user\s+` + logAddrPattern + `\b`)
	authNoWorkerRE = regexp.MustCompile(`^` + logTSPattern +
		`Authorised\s+client\s+\d+\s+\S+\s+worker\s+(` + logAddrPattern + `)\s+as\s+user\s+` + logAddrPattern + `\b`)

	dropLineRE = regexp.MustCompile(`^` + logTSPattern +
		`Dropped\s+client\s+\d+\s+\S+\s+user\s+` + logAddrPattern + `\s+worker\s+(` + logAddrPattern + `)\.(` + logWorkerPattern + `)\b`)
	dropNoWorkerRE = regexp.MustCompile(`^` + logTSPattern +
		`Dropped\s+client\s+\d+\s+\S+\s+user\s+(` + logAddrPattern + `)\b`)

	// ckpool emits share results in two phrasings depending on version.
	shareLineRE = regexp.MustCompile(`^` + logTSPattern +
		`(?i:Share)\s+((?i:accepted|rejected))\s+from\s+(` + logAddrPattern + `)(?:\.(` + logWorkerPattern + `))?\s+(?:at\s+)?diff\s+(\d+(?:/\d+)?)\b`)
	shareAltLineRE = regexp.MustCompile(`^` + logTSPattern +
		`((?i:Accepted|Rejected))\s+share\s+from\s+(` + logAddrPattern + `)(?:\.(` + logWorkerPattern + `))?\s+(?:at\s+)?diff\s+(\d+(?:/\d+)?)\b`)

	workerNameRE = regexp.MustCompile(`^` + logWorkerPattern + `$`)
)

var logTimestampFormats = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseBracketTS(s string, fallback time.Time) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback.Unix()
	}
	for _, format := range logTimestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.Unix()
		}
	}
	return fallback.Unix()
}

// userSnapshot is the decoded payload of a "User <addr>:{...}" line. ckpool
// reports hashrates as SI strings and everything else numeric.
type userSnapshot struct {
	Hashrate1m  string  `json:"hashrate1m"`
	Hashrate5m  string  `json:"hashrate5m"`
	Hashrate1hr string  `json:"hashrate1hr"`
	Hashrate1d  string  `json:"hashrate1d"`
	Hashrate7d  string  `json:"hashrate7d"`
	LastShare   int64   `json:"lastshare"`
	Workers     int64   `json:"workers"`
	Shares      int64   `json:"shares"`
	BestShare   float64 `json:"bestshare"`
	BestEver    float64 `json:"bestever"`
	Authorised  int64   `json:"authorised"`
}

type userLine struct {
	TS      int64
	Address string
	Data    userSnapshot
}

type presenceLine struct {
	TS     int64
	Wallet string
	Worker string
}

func parsePoolLine(line string, now time.Time) (*poolMetricsRecord, bool) {
	m := poolLineRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}
	var rec poolMetricsRecord
	if err := fastJSONUnmarshal([]byte(m[2]), &rec); err != nil {
		return nil, false
	}
	rec.TS = parseBracketTS(m[1], now)
	return &rec, true
}

func parseUserLine(line string, now time.Time) (*userLine, bool) {
	m := userLineRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}
	ul := userLine{
		TS:      parseBracketTS(m[1], now),
		Address: m[2],
	}
	if err := fastJSONUnmarshal([]byte(m[3]), &ul.Data); err != nil {
		return nil, false
	}
	return &ul, true
}

// cleanWorkerName normalizes a worker label pulled out of a log line; labels
// that carry the truncation ellipsis, equal the wallet, or fail the name
// pattern collapse to the placeholder.
func cleanWorkerName(worker, wallet string) string {
	w := strings.TrimSpace(worker)
	// Truncation check must see any trailing ellipsis before dots are trimmed.
	if strings.Contains(w, "...") {
		return fallbackWorkerName
	}
	w = strings.Trim(w, ". ")
	if w == "" || w == wallet || len(w) > 64 {
		return fallbackWorkerName
	}
	if !workerNameRE.MatchString(w) {
		return fallbackWorkerName
	}
	return w
}

func parseAuthorisedLine(line string, now time.Time) (*presenceLine, bool) {
	sline := strings.TrimSpace(line)
	if m := authLineRE.FindStringSubmatch(sline); m != nil {
		wallet, worker := m[2], m[3]
		if strings.Contains(wallet, "...") || strings.Contains(worker, "...") {
			worker = fallbackWorkerName
		} else {
			worker = cleanWorkerName(worker, wallet)
		}
		return &presenceLine{TS: parseBracketTS(m[1], now), Wallet: wallet, Worker: worker}, true
	}
	if m := authNoWorkerRE.FindStringSubmatch(sline); m != nil {
		return &presenceLine{TS: parseBracketTS(m[1], now), Wallet: m[2], Worker: fallbackWorkerName}, true
	}
	return nil, false
}

// shareEvent is one accepted or rejected share pulled from the log. Worker
// is empty when the line carries only the wallet.
type shareEvent struct {
	TS      int64
	Status  string
	Wallet  string
	Worker  string
	RawDiff string
	Scaled  float64
}

// scaleShareDiff turns ckpool's raw diff field ("512" or "512/1024") into a
// single number; malformed input yields 0.
func scaleShareDiff(raw string) float64 {
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		a, errA := strconv.ParseFloat(raw[:i], 64)
		b, errB := strconv.ParseFloat(raw[i+1:], 64)
		if errA != nil || errB != nil || b == 0 {
			return 0
		}
		return a / b
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseShareLine(line string, now time.Time) (*shareEvent, bool) {
	sline := strings.TrimSpace(line)
	m := shareLineRE.FindStringSubmatch(sline)
	if m == nil {
		m = shareAltLineRE.FindStringSubmatch(sline)
	}
	if m == nil {
		return nil, false
	}
	return &shareEvent{
		TS:      parseBracketTS(m[1], now),
		Status:  strings.ToLower(m[2]),
		Wallet:  m[3],
		Worker:  m[4],
		RawDiff: m[5],
		Scaled:  scaleShareDiff(m[5]),
	}, true
}

func parseDroppedLine(line string, now time.Time) (*presenceLine, bool) {
	sline := strings.TrimSpace(line)
	if m := dropLineRE.FindStringSubmatch(sline); m != nil {
		wallet, worker := m[2], m[3]
		if strings.Contains(wallet, "...") || strings.Contains(worker, "...") {
			worker = fallbackWorkerName
		} else {
			worker = cleanWorkerName(worker, wallet)
		}
		return &presenceLine{TS: parseBracketTS(m[1], now), Wallet: wallet, Worker: worker}, true
	}
	if m := dropNoWorkerRE.FindStringSubmatch(sline); m != nil {
		return &presenceLine{TS: parseBracketTS(m[1], now), Wallet: m[2], Worker: fallbackWorkerName}, true
	}
	return nil, false
}
