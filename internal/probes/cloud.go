package probes

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/cvss"
)

// Suffixes appended to the target's name when guessing bucket names.
var bucketSuffixes = []string{"", "-assets", "-static", "-backup", "-backups", "-media", "-uploads", "-dev"}

type cloudProbe struct {
	client *client
	cfg    config.ProbesConfig
	log    *zap.Logger

	// Endpoint templates, parameterized for tests.
	s3URLFormat    string
	azureURLFormat string
}

func (p *cloudProbe) ID() string { return "cloud-security" }

// Probe guesses storage-bucket names derived from the target host and checks
// whether any of them allows anonymous listing. An S3 hit is confirmed by
// parsing the ListBucketResult document rather than string-matching, so
// error pages that merely mention the element name do not count.
func (p *cloudProbe) Probe(ctx context.Context, tgt Target) ([]schemas.Finding, error) {
	base := bucketBaseName(tgt.BaseURL)
	if base == "" {
		return nil, nil
	}

	s3Format := p.s3URLFormat
	if s3Format == "" {
		s3Format = "https://%s.s3.amazonaws.com/"
	}
	azureFormat := p.azureURLFormat
	if azureFormat == "" {
		azureFormat = "https://%s.blob.core.windows.net/%s?restype=container&comp=list"
	}

	var findings []schemas.Finding
	for _, suffix := range bucketSuffixes {
		bucket := base + suffix

		f, err := p.checkS3(ctx, tgt, bucket, fmt.Sprintf(s3Format, bucket))
		if err != nil {
			return findings, err
		}
		if f != nil {
			findings = append(findings, *f)
		}

		f, err = p.checkAzure(ctx, tgt, bucket, fmt.Sprintf(azureFormat, base, bucket))
		if err != nil {
			return findings, err
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

func (p *cloudProbe) checkS3(ctx context.Context, tgt Target, bucket, listURL string) (*schemas.Finding, error) {
	req, err := p.client.request(ctx, tgt)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get(listURL)
	if err != nil || resp.StatusCode() != 200 {
		return nil, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(resp.Body()); err != nil {
		return nil, nil
	}
	root := doc.Root()
	if root == nil || root.Tag != "ListBucketResult" {
		return nil, nil
	}

	keys := root.FindElements("//Contents/Key")
	sample := make([]string, 0, 3)
	for _, k := range keys {
		if len(sample) == 3 {
			break
		}
		sample = append(sample, k.Text())
	}

	f := newFinding(tgt, "Cloud", cvss.CategorySensitiveDataExposure,
		fmt.Sprintf("Publicly listable S3 bucket: %s", bucket),
		fmt.Sprintf("The bucket %q allows anonymous object listing (%d keys visible).", bucket, len(keys)),
		fmt.Sprintf("GET %s returned a ListBucketResult document. Sample keys: %s", listURL, strings.Join(sample, ", ")))
	return &f, nil
}

func (p *cloudProbe) checkAzure(ctx context.Context, tgt Target, container, listURL string) (*schemas.Finding, error) {
	req, err := p.client.request(ctx, tgt)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get(listURL)
	if err != nil || resp.StatusCode() != 200 {
		return nil, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(resp.Body()); err != nil {
		return nil, nil
	}
	root := doc.Root()
	if root == nil || root.Tag != "EnumerationResults" {
		return nil, nil
	}

	f := newFinding(tgt, "Cloud", cvss.CategorySensitiveDataExposure,
		fmt.Sprintf("Publicly listable Azure blob container: %s", container),
		fmt.Sprintf("The container %q allows anonymous blob enumeration.", container),
		"GET "+listURL+" returned an EnumerationResults document.")
	return &f, nil
}

// bucketBaseName extracts the registrable-name guess from the target URL:
// "https://shop.example.com" becomes "example".
func bucketBaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" || strings.Count(host, ".") == 0 {
		return ""
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
