package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: sessionblob <encode|decode|inspect> <file> [output]")
	}

	command := os.Args[1]
	input := os.Args[2]

	switch command {
	case "encode":
		if err := encode(input, os.Stdout); err != nil {
			log.Fatal(err)
		}
	case "decode":
		if len(os.Args) < 4 {
			log.Fatal("Usage: sessionblob decode <encoded-file|-> <output>")
		}
		if err := decode(input, os.Args[3]); err != nil {
			log.Fatal(err)
		}
	case "inspect":
		if err := inspect(input, os.Stdout); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown command %q", command)
	}
}

type cookie struct {
	Name    string  `json:"name"`
	Domain  string  `json:"domain"`
	Expires float64 `json:"expires"`
}

type storageState struct {
	Cookies []cookie `json:"cookies"`
	Origins []struct {
		Origin       string            `json:"origin"`
		LocalStorage []json.RawMessage `json:"localStorage"`
	} `json:"origins"`
	CreatedAt time.Time `json:"createdAt"`
}

// encode prints the single-line form expected by NOTE_STATE_B64.
func encode(path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file %s: %w", path, err)
	}
	if _, err := parseState(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, base64.StdEncoding.EncodeToString(data))
	return err
}

func decode(input, output string) error {
	var raw []byte
	var err error
	if input == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(input)
	}
	if err != nil {
		return fmt.Errorf("reading encoded session: %w", err)
	}

	data, err := decodeBase64(string(raw))
	if err != nil {
		return fmt.Errorf("decoding base64: %w", err)
	}
	if _, err := parseState(data); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), ".session-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	log.Printf("Writing %s", output)
	return os.Rename(tmp.Name(), output)
}

// decodeBase64 takes the same forms the drafter accepts in NOTE_STATE_B64:
// standard or URL-safe, padded or not, wrapped over several lines.
func decodeBase64(encoded string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(encoded), "")
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(cleaned)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func inspect(path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file %s: %w", path, err)
	}
	state, err := parseState(data)
	if err != nil {
		return err
	}

	if !state.CreatedAt.IsZero() {
		fmt.Fprintf(w, "created: %s\n", state.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "cookies: %d\n", len(state.Cookies))
	now := time.Now()
	for _, c := range state.Cookies {
		expiry := "session"
		if c.Expires > 0 {
			t := time.Unix(int64(c.Expires), 0)
			expiry = t.Format(time.RFC3339)
			if t.Before(now) {
				expiry += " (expired)"
			}
		}
		fmt.Fprintf(w, "  %-30s %-20s %s\n", c.Name, c.Domain, expiry)
	}
	for _, o := range state.Origins {
		fmt.Fprintf(w, "origin %s: %d localStorage keys\n", o.Origin, len(o.LocalStorage))
	}
	return nil
}

func parseState(data []byte) (*storageState, error) {
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("not a session file: %w", err)
	}
	if len(state.Cookies) == 0 {
		return nil, fmt.Errorf("session has no cookies")
	}
	return &state, nil
}
