package cookies

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseNetscape reads all cookies from a Netscape-format cookie text file.
// Lines starting with # are skipped, except #HttpOnly_ which sets the
// HttpOnly flag. Expired cookies and malformed lines are skipped, the
// latter with a warning log.
func ParseNetscape(filePath string) ([]Cookie, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("cookies: cannot open Netscape cookie file: %w", err)
	}
	defer f.Close()

	now := time.Now()
	var cookies []Cookie

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		// Skip empty lines
		if line == "" {
			continue
		}

		// Handle #HttpOnly_ prefix
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = line[len("#HttpOnly_"):]
		} else if strings.HasPrefix(line, "#") {
			// Skip comment lines
			continue
		}

		// Split by tab — expect exactly 7 fields
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			log.Printf("warning: skipping malformed Netscape cookie line: %q", line)
			continue
		}

		cookieDomain := fields[0]
		// fields[1] is the subdomain flag — the leading dot already encodes it
		cookiePath := fields[2]
		secure := strings.EqualFold(fields[3], "TRUE")
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			log.Printf("warning: skipping cookie with invalid expiry: %q", fields[4])
			continue
		}
		name := fields[5]
		value := fields[6]

		// Skip expired cookies (expiry > 0 means it has an explicit expiry)
		if expiry > 0 && time.Unix(expiry, 0).Before(now) {
			continue
		}

		var exp time.Time
		if expiry > 0 {
			exp = time.Unix(expiry, 0)
		}
		cookies = append(cookies, Cookie{
			Name:     name,
			Value:    value,
			Domain:   cookieDomain,
			Path:     cookiePath,
			Expiry:   exp,
			Secure:   secure,
			HttpOnly: httpOnly,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cookies: failed to read Netscape cookie file: %w", err)
	}

	return cookies, nil
}

// BuildCookieHeader builds an HTTP Cookie header value from a slice of cookies.
// Format: "name1=val1; name2=val2"
func BuildCookieHeader(cookies []Cookie) string {
	if len(cookies) == 0 {
		return ""
	}

	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}
