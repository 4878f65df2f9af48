package security

import (
	"sort"
	"strings"
	"testing"
)

func TestIsValidCapability(t *testing.T) {
	tests := []struct {
		cap   Capability
		valid bool
	}{
		{CapabilityDocumentRead, true},
		{CapabilityDocumentWrite, true},
		{CapabilitySelectionRead, true},
		{CapabilitySelectionWrite, true},
		{CapabilityUIRead, true},
		{CapabilityUIWrite, true},
		{CapabilityEventsEmit, true},
		{CapabilityEventsSubscribe, true},
		{CapabilityExtensionsDefine, true},
		{CapabilityExtensionsContribute, true},
		{CapabilityServicesProvide, true},
		{CapabilityServicesConsume, true},
		{CapabilityStorageLocal, true},
		{Capability("document"), false},
		{Capability("document:admin"), false},
		{Capability(""), false},
	}

	for _, tt := range tests {
		if got := IsValidCapability(tt.cap); got != tt.valid {
			t.Errorf("IsValidCapability(%q) = %v, want %v", tt.cap, got, tt.valid)
		}
	}
}

func TestAllCapabilitiesCount(t *testing.T) {
	caps := AllCapabilities()
	if len(caps) != 13 {
		t.Errorf("AllCapabilities() returned %d capabilities, want 13", len(caps))
	}
	if !sort.SliceIsSorted(caps, func(i, j int) bool { return caps[i] < caps[j] }) {
		t.Error("AllCapabilities() is not sorted")
	}
}

func TestSetMembership(t *testing.T) {
	s := NewSet([]Capability{CapabilityDocumentRead, CapabilityEventsEmit})

	if !s.Has(CapabilityDocumentRead) {
		t.Error("Set should contain document:read")
	}
	if !s.Has(CapabilityEventsEmit) {
		t.Error("Set should contain events:emit")
	}
	if s.Has(CapabilityDocumentWrite) {
		t.Error("Set should not contain document:write")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestSetIgnoresUnknown(t *testing.T) {
	s := NewSet([]Capability{CapabilityUIRead, Capability("bogus")})
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (unknown capability should be dropped)", s.Len())
	}
	if s.Has(Capability("bogus")) {
		t.Error("Set should not contain an unknown capability")
	}
}

func TestEmptySet(t *testing.T) {
	s := NewSet(nil)
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if s.Has(CapabilityDocumentRead) {
		t.Error("empty Set should not contain any capability")
	}
}

func TestCapabilityError(t *testing.T) {
	err := NewCapabilityError("my-plugin", CapabilityDocumentWrite, "set value")
	msg := err.Error()
	if !strings.Contains(msg, "my-plugin") || !strings.Contains(msg, "document:write") {
		t.Errorf("Error() = %q, want plugin name and capability in message", msg)
	}

	err = NewCapabilityError("my-plugin", CapabilityDocumentWrite, "")
	if !strings.Contains(err.Error(), "not granted") {
		t.Errorf("Error() = %q, want %q", err.Error(), "not granted")
	}
}
