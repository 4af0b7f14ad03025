package domain

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// OwnerSettings applies when the user owns the patch an event is about.
type OwnerSettings struct {
	SubscribeComment        bool `yaml:"subscribe_comment" json:"subscribe_comment"`
	SubscribeVerified       bool `yaml:"subscribe_verified" json:"subscribe_verified"`
	SubscribeReadyForSubmit bool `yaml:"subscribe_ready_for_submit" json:"subscribe_ready_for_submit"`
	SubscribeSubmitted      bool `yaml:"subscribe_submitted" json:"subscribe_submitted"`

	// IgnoreEmptyReviewComments is stored and round-tripped but not evaluated yet.
	IgnoreEmptyReviewComments bool `yaml:"ignore_empty_review_comments" json:"ignore_empty_review_comments"`

	IgnoreByUsername []Username    `yaml:"ignore_by_username" json:"ignore_by_username"`
	IgnoreProjects   []ProjectName `yaml:"ignore_projects" json:"ignore_projects"`
}

func (o OwnerSettings) IgnoresUser(u Username) bool { return slices.Contains(o.IgnoreByUsername, u) }

func (o OwnerSettings) IgnoresProject(p ProjectName) bool {
	return slices.Contains(o.IgnoreProjects, p)
}

// ReviewerSettings applies when the user was added as a reviewer.
type ReviewerSettings struct {
	Subscribe        bool          `yaml:"subscribe" json:"subscribe"`
	IgnoreByUsername []Username    `yaml:"ignore_by_username" json:"ignore_by_username"`
	IgnoreTopics     []TopicName   `yaml:"ignore_topics" json:"ignore_topics"`
	IgnoreProjects   []ProjectName `yaml:"ignore_projects" json:"ignore_projects"`
}

func (r ReviewerSettings) IgnoresUser(u Username) bool { return slices.Contains(r.IgnoreByUsername, u) }

// SettingsVersion tags the schema of a persisted settings document.
type SettingsVersion string

const SettingsV1 SettingsVersion = "v1"

// SettingsDataV1 is the payload of a version 1 document.
type SettingsDataV1 struct {
	AsReviewer ReviewerSettings `yaml:"as_reviewer" json:"as_reviewer"`
	AsOwner    OwnerSettings    `yaml:"as_owner" json:"as_owner"`
}

// Settings is the versioned envelope stored per user. New schema versions
// get their own payload field and a case in ParseSettings; Owner and
// Reviewer always project the current shape.
type Settings struct {
	Version SettingsVersion
	V1      SettingsDataV1
}

func (s Settings) Owner() OwnerSettings       { return s.V1.AsOwner }
func (s Settings) Reviewer() ReviewerSettings { return s.V1.AsReviewer }

//go:embed default_settings.yaml
var defaultSettingsDocument []byte

// DefaultSettingsDocument returns the commented YAML written for users that
// have no settings yet.
func DefaultSettingsDocument() []byte { return bytes.Clone(defaultSettingsDocument) }

// DefaultSettings returns the parsed built-in defaults.
func DefaultSettings() Settings {
	s, err := ParseSettings(defaultSettingsDocument)
	if err != nil {
		panic(fmt.Sprintf("domain: embedded default settings are invalid: %v", err))
	}
	return s
}

var ErrUnknownSettingsVersion = errors.New("unknown settings version")

// ParseSettings decodes a YAML settings document. Unknown keys and unknown
// versions are rejected so a typo in a hand-edited file is reported instead
// of being silently dropped.
func ParseSettings(b []byte) (Settings, error) {
	var head struct {
		Version SettingsVersion `yaml:"version"`
	}
	if err := yaml.Unmarshal(b, &head); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}

	switch SettingsVersion(strings.ToLower(strings.TrimSpace(string(head.Version)))) {
	case SettingsV1:
		var doc struct {
			Version    SettingsVersion  `yaml:"version"`
			AsReviewer ReviewerSettings `yaml:"as_reviewer"`
			AsOwner    OwnerSettings    `yaml:"as_owner"`
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Settings{}, fmt.Errorf("settings v1: %w", err)
		}
		return Settings{
			Version: SettingsV1,
			V1:      SettingsDataV1{AsReviewer: doc.AsReviewer, AsOwner: doc.AsOwner},
		}, nil
	case "":
		return Settings{}, fmt.Errorf("settings: %w: version missing", ErrUnknownSettingsVersion)
	default:
		return Settings{}, fmt.Errorf("settings: %w: %q", ErrUnknownSettingsVersion, head.Version)
	}
}

// EncodeSettings renders s as a YAML document without comments.
func EncodeSettings(s Settings) ([]byte, error) {
	if s.Version != SettingsV1 {
		return nil, fmt.Errorf("settings: %w: %q", ErrUnknownSettingsVersion, s.Version)
	}
	doc := struct {
		Version    SettingsVersion  `yaml:"version"`
		AsReviewer ReviewerSettings `yaml:"as_reviewer"`
		AsOwner    OwnerSettings    `yaml:"as_owner"`
	}{s.Version, s.V1.AsReviewer, s.V1.AsOwner}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
