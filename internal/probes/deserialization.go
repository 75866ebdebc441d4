package probes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
)

// Malformed serialized blobs per runtime family. None of them execute
// anything; the oracle is the deserializer's own error text leaking into the
// response, which proves untrusted input reaches a native deserializer.
var deserializationPayloads = []struct {
	name        string
	contentType string
	body        string
}{
	{"java", "application/x-java-serialized-object", "\xac\xed\x00\x05sr\x00\x04Junk"},
	{"php", "application/x-www-form-urlencoded", `data=O:8:"stdClass":1:{s:4:"junk";b:1;}`},
	{"python-pickle", "application/octet-stream", "\x80\x04\x95junk."},
	{"dotnet", "application/json", `{"$type":"System.Junk, mscorlib","value":1}`},
}

var deserializationMarkers = []string{
	"java.io.streamcorruptedexception", "java.io.invalidclassexception",
	"objectinputstream", "unserialize()", "unserialize error",
	"pickle.unpicklingerror", "unpicklingerror",
	"system.runtime.serialization", "jsonserializationexception",
}

type deserializationProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger
}

func (p *deserializationProbe) ID() string { return "deserialization" }

func (p *deserializationProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	endpoints := append([]string{tgt.BaseURL}, capURLs(tgt.URLs, p.cfg.MaxProbeURLs)...)

	var findings []schemas.Finding
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		if _, dup := seen[endpoint]; dup {
			continue
		}
		seen[endpoint] = struct{}{}

		for _, payload := range deserializationPayloads {
			req, err := p.client.request(ctx, tgt)
			if err != nil {
				return findings, err
			}
			resp, err := req.
				SetHeader("Content-Type", payload.contentType).
				SetBody(payload.body).
				Post(endpoint)
			if err != nil {
				p.log.Debug("Deserialization probe request failed",
					zap.String("url", endpoint), zap.Error(err))
				continue
			}

			marker, hit := containsAny(string(resp.Body()), deserializationMarkers)
			if !hit {
				continue
			}
			findings = append(findings, newFinding(tgt, "Deserialization", cvss.CategoryDeserialization,
				fmt.Sprintf("Insecure deserialization (%s) at %s", payload.name, endpoint),
				"The endpoint feeds request bodies into a native deserializer; crafted payloads against such sinks commonly escalate to remote code execution.",
				fmt.Sprintf("A malformed %s blob produced the deserializer error %q.", payload.name, marker)))
			break
		}
	}
	return findings, nil
}
