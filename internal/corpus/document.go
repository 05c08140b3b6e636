package corpus

import (
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Kind string

const (
	KindGame      Kind = "game"
	KindCharacter Kind = "character"
	KindMove      Kind = "move"
)

const MaxTitleLength = 256

func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindGame, KindCharacter, KindMove:
		return Kind(value), true
	}
	return "", false
}

// KindFromCollection maps the plural route segments used by the HTTP API
// ("games", "chars", "moves") to a Kind.
func KindFromCollection(segment string) (Kind, bool) {
	switch segment {
	case "games":
		return KindGame, true
	case "chars":
		return KindCharacter, true
	case "moves":
		return KindMove, true
	}
	return "", false
}

// ResolveParentKind returns the kind a document of the given kind hangs off.
// Games have no parent.
func ResolveParentKind(kind Kind) (Kind, bool) {
	switch kind {
	case KindCharacter:
		return KindGame, true
	case KindMove:
		return KindCharacter, true
	}
	return "", false
}

func (k Kind) keyPrefix() string {
	switch k {
	case KindGame:
		return "game"
	case KindCharacter:
		return "char"
	case KindMove:
		return "move"
	}
	return string(k)
}

// CanonicalKey is the published-bucket key of a document.
func CanonicalKey(kind Kind, target string) string {
	return kind.keyPrefix() + "::" + target
}

type Attribute struct {
	Title     string `json:"title"`
	Value     string `json:"value"`
	Sentiment string `json:"sentiment"`
}

type Media struct {
	FileName    *string `json:"fileName,omitempty"`
	PreviewData *string `json:"previewData,omitempty"`
}

type AuthorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Document is a game, character or move. Parent is the target of the
// enclosing game (for a character) or character (for a move) and is empty
// for games.
type Document struct {
	Kind          Kind
	Title         string
	Parent        string
	Attributes    []Attribute
	Names         []string
	Media         *Media
	LatestAuthors []AuthorRef
}

type documentJSON struct {
	Type          Kind        `json:"type"`
	Title         string      `json:"title"`
	Game          string      `json:"game,omitempty"`
	Character     string      `json:"character,omitempty"`
	Attributes    []Attribute `json:"attributes"`
	Names         []string    `json:"names"`
	Media         *Media      `json:"media,omitempty"`
	LatestAuthors []AuthorRef `json:"latestAuthors,omitempty"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		Type:          d.Kind,
		Title:         d.Title,
		Attributes:    d.Attributes,
		Names:         d.Names,
		Media:         d.Media,
		LatestAuthors: d.LatestAuthors,
	}
	switch d.Kind {
	case KindCharacter:
		out.Game = d.Parent
	case KindMove:
		out.Character = d.Parent
	}
	if out.Attributes == nil {
		out.Attributes = []Attribute{}
	}
	if out.Names == nil {
		out.Names = []string{}
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var in documentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = Document{
		Kind:          in.Type,
		Title:         in.Title,
		Attributes:    in.Attributes,
		Names:         in.Names,
		Media:         in.Media,
		LatestAuthors: in.LatestAuthors,
	}
	switch in.Type {
	case KindCharacter:
		d.Parent = in.Game
	case KindMove:
		d.Parent = in.Character
	}
	return nil
}

// ParentTarget returns the parent's target, or false for a game.
func (d Document) ParentTarget() (string, bool) {
	if _, ok := ResolveParentKind(d.Kind); !ok {
		return "", false
	}
	return d.Parent, true
}

// MediaFileName returns the referenced media object, if any.
func (d Document) MediaFileName() (string, bool) {
	if d.Media == nil || d.Media.FileName == nil {
		return "", false
	}
	name := strings.TrimSpace(*d.Media.FileName)
	return name, name != ""
}

// Sanitize trims the title and every attribute field and reduces names to
// unique, non-empty trimmed strings. Name comparison is case-sensitive.
func (d *Document) Sanitize() {
	d.Title = strings.TrimSpace(d.Title)
	for i := range d.Attributes {
		d.Attributes[i].Title = strings.TrimSpace(d.Attributes[i].Title)
		d.Attributes[i].Value = strings.TrimSpace(d.Attributes[i].Value)
		d.Attributes[i].Sentiment = strings.TrimSpace(d.Attributes[i].Sentiment)
	}

	seen := make(map[string]struct{}, len(d.Names))
	names := make([]string, 0, len(d.Names))
	for _, name := range d.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	d.Names = names
}

func (d Document) Validate() error {
	_, hasParent := ResolveParentKind(d.Kind)
	err := validation.ValidateStruct(&d,
		validation.Field(&d.Kind,
			validation.Required.Error("type is required"),
			validation.In(KindGame, KindCharacter, KindMove).Error("type must be one of game, character, move"),
		),
		validation.Field(&d.Title,
			validation.Required.Error("title is required"),
			validation.RuneLength(1, MaxTitleLength).Error(fmt.Sprintf("title must be at most %d characters", MaxTitleLength)),
		),
		validation.Field(&d.Parent,
			validation.When(hasParent, validation.Required.Error("parent reference is required")),
		),
	)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}
