// Package snapshot encodes persisted profile snapshots: a JSON header line
// followed by the JSON profile, zstd-compressed as a whole.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"xpfinance.app/internal/profile"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	UserID  string    `json:"user_id"`
	SavedAt time.Time `json:"saved_at"`
}

type ProfileV1 struct {
	Header  Header               `json:"header"`
	Profile *profile.UserProfile `json:"profile"`
}

// New wraps p in a current-version snapshot.
func New(p *profile.UserProfile, now time.Time) ProfileV1 {
	return ProfileV1{
		Header:  Header{Version: Version, UserID: p.ID, SavedAt: now.UTC()},
		Profile: p,
	}
}

func Encode(w io.Writer, snap ProfileV1) error {
	if snap.Profile == nil {
		return fmt.Errorf("snapshot without profile")
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(snap.Profile); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (ProfileV1, error) {
	var snap ProfileV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &snap.Header); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	var p profile.UserProfile
	if err := json.NewDecoder(br).Decode(&p); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	p.Normalize()
	snap.Profile = &p
	return snap, nil
}

// Marshal is Encode into a byte slice, for key/value stores.
func Marshal(snap ProfileV1) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (ProfileV1, error) {
	return Decode(bytes.NewReader(b))
}

func WriteFile(path string, snap ProfileV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := Marshal(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadFile(path string) (ProfileV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return ProfileV1{}, err
	}
	defer f.Close()
	return Decode(f)
}
