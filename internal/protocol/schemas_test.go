package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"xpfinance.app/internal/battlepass"
	"xpfinance.app/internal/catalog"
	"xpfinance.app/internal/config"
	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/protocol"
	"xpfinance.app/internal/view"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	passes, err := battlepass.FromTuning(config.Defaults())
	if err != nil {
		t.Fatalf("passes: %v", err)
	}
	static, err := catalog.NewStatic([]catalog.Item{
		{ID: "frame_1", Type: profile.SlotFrame, Name: "Kitsune I", Source: catalog.SourcePass,
			RequiredPass: &catalog.PassRequirement{Pass: "Kitsune", Tier: 1}},
		{ID: "frame_2", Type: profile.SlotFrame, Name: "Ouro", Source: catalog.SourceShop, Price: 10000},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	p := &profile.UserProfile{ID: "u1", Balance: 2500, XP: 120, Level: 2}
	p.Normalize()
	pv := view.Builder{Passes: passes}.Profile(catalog.Merge(static, nil, nil), p)

	validate(compile("hello.schema.json"), protocol.HelloMsg{
		Type: protocol.TypeHello, ProtocolVersion: protocol.Version, UserID: "u1",
	})
	validate(compile("welcome.schema.json"), protocol.WelcomeMsg{
		Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "S1", UserID: "u1",
		CatalogDigest: static.Digest, Profile: &pv,
	})
	validate(compile("profile.schema.json"), protocol.ProfileMsg{
		Type: protocol.TypeProfile, ProtocolVersion: protocol.Version, UserID: "u1", Seq: 1,
		SentAt: time.Unix(0, 0).UTC(), Profile: pv,
	})
	validate(compile("invalidated.schema.json"), protocol.InvalidatedMsg{
		Type: protocol.TypeInvalidated, ProtocolVersion: protocol.Version, UserID: "u1", Reason: "NOT_FOUND",
	})
}
