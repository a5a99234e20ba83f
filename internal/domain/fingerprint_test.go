package domain

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	labels := map[string]string{"env": "prod"}
	fp1 := Fingerprint("sentinel", "high latency", []string{"api", "db"}, SeverityP1, labels, FingerprintConfig{})
	fp2 := Fingerprint("sentinel", "high latency", []string{"db", "api"}, SeverityP1, labels, FingerprintConfig{})

	if fp1 != fp2 {
		t.Fatalf("expected resource ordering not to affect fingerprint: %s != %s", fp1, fp2)
	}
	if len(fp1) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(fp1))
	}
}

func TestFingerprintIgnoresLabelsByDefault(t *testing.T) {
	a := Fingerprint("sentinel", "high latency", []string{"api"}, SeverityP1, map[string]string{"env": "prod"}, FingerprintConfig{})
	b := Fingerprint("sentinel", "high latency", []string{"api"}, SeverityP1, map[string]string{"env": "staging"}, FingerprintConfig{})

	if a != b {
		t.Fatalf("expected labels to be excluded from fingerprint by default")
	}
}

func TestFingerprintIncludesLabelsWhenConfigured(t *testing.T) {
	cfg := FingerprintConfig{IncludeLabels: true}
	a := Fingerprint("sentinel", "high latency", []string{"api"}, SeverityP1, map[string]string{"env": "prod"}, cfg)
	b := Fingerprint("sentinel", "high latency", []string{"api"}, SeverityP1, map[string]string{"env": "staging"}, cfg)

	if a == b {
		t.Fatalf("expected differing labels to change the fingerprint when IncludeLabels is set")
	}
}

func TestFingerprintDiffersOnSeverity(t *testing.T) {
	a := Fingerprint("sentinel", "high latency", []string{"api"}, SeverityP1, nil, FingerprintConfig{})
	b := Fingerprint("sentinel", "high latency", []string{"api"}, SeverityP2, nil, FingerprintConfig{})

	if a == b {
		t.Fatalf("expected differing severity to change the fingerprint")
	}
}
