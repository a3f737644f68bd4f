package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// Reserved top-level fields of every stored document.
const (
	FieldUID      = "uid"
	FieldMetadata = "splash_md"
)

// NoPrincipal is recorded as creator/editor for system operations.
const NoPrincipal = "NONE"

// Principal is the identity an operation runs on behalf of. A nil
// Principal stands for the system.
type Principal interface {
	PrincipalID() string
}

func actorID(p Principal) string {
	if p == nil {
		return NoPrincipal
	}
	if id := p.PrincipalID(); id != "" {
		return id
	}
	return NoPrincipal
}

// EditRecord is one entry of the append-only edit history.
type EditRecord struct {
	Date time.Time `bson:"date" json:"date"`
	User string    `bson:"user" json:"user"`
}

// SystemMetadata is the splash_md envelope owned by the service layer.
// Unknown subfields supplied by callers are kept in Extra.
type SystemMetadata struct {
	Creator    string                 `bson:"creator" json:"creator"`
	CreateDate time.Time              `bson:"create_date" json:"create_date"`
	LastEdit   time.Time              `bson:"last_edit" json:"last_edit"`
	EditRecord []EditRecord           `bson:"edit_record" json:"edit_record"`
	Etag       string                 `bson:"etag" json:"etag"`
	Archived   *bool                  `bson:"archived,omitempty" json:"archived,omitempty"`
	Version    *int                   `bson:"version,omitempty" json:"version,omitempty"`
	Extra      map[string]interface{} `bson:",inline" json:"-"`
}

// IsArchived reports whether the archived flag is set to true.
func (m SystemMetadata) IsArchived() bool {
	return m.Archived != nil && *m.Archived
}

// VersionNumber returns the version counter, 0 for unversioned documents.
func (m SystemMetadata) VersionNumber() int {
	if m.Version == nil {
		return 0
	}
	return *m.Version
}

func (m SystemMetadata) clone() SystemMetadata {
	out := m
	out.EditRecord = append([]EditRecord{}, m.EditRecord...)
	if m.Archived != nil {
		a := *m.Archived
		out.Archived = &a
	}
	if m.Version != nil {
		v := *m.Version
		out.Version = &v
	}
	if len(m.Extra) > 0 {
		out.Extra = make(map[string]interface{}, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	} else {
		out.Extra = nil
	}
	return out
}

func (m *SystemMetadata) normalize() {
	if m.EditRecord == nil {
		m.EditRecord = []EditRecord{}
	}
	if len(m.Extra) == 0 {
		m.Extra = nil
	}
}

func (m SystemMetadata) MarshalJSON() ([]byte, error) {
	type plain SystemMetadata
	b, err := json.Marshal(plain(m))
	if err != nil || len(m.Extra) == 0 {
		return b, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func (m *SystemMetadata) UnmarshalJSON(b []byte) error {
	type plain SystemMetadata
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]interface{}
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range knownMetadataFields {
		delete(all, k)
	}
	*m = SystemMetadata(p)
	m.Extra = all
	m.normalize()
	return nil
}

var knownMetadataFields = []string{
	"creator", "create_date", "last_edit", "edit_record", "etag", "archived", "version",
}

// Document is a stored record: the uid, the metadata envelope and an open
// body of caller fields. On the wire it is flat: {uid, splash_md, ...body}.
type Document struct {
	UID      string
	Metadata SystemMetadata
	Body     bson.M
}

type wireDocument struct {
	UID      string         `bson:"uid"`
	Metadata SystemMetadata `bson:"splash_md"`
	Body     bson.M         `bson:",inline"`
}

func (d Document) MarshalBSON() ([]byte, error) {
	return bson.Marshal(wireDocument{UID: d.UID, Metadata: d.Metadata, Body: stripReserved(d.Body)})
}

func (d *Document) UnmarshalBSON(data []byte) error {
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(data))
	if err != nil {
		return err
	}
	dec.DefaultDocumentM()
	var w wireDocument
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	delete(w.Body, "_id")
	if len(w.Body) == 0 {
		w.Body = bson.M{}
	}
	w.Metadata.normalize()
	*d = Document{UID: w.UID, Metadata: w.Metadata, Body: w.Body}
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Body)+2)
	for k, v := range stripReserved(d.Body) {
		out[k] = v
	}
	out[FieldUID] = d.UID
	out[FieldMetadata] = d.Metadata
	return json.Marshal(out)
}

// Decode copies the flattened document into v, typically a resource struct
// embedding Envelope.
func (d Document) Decode(v interface{}) error {
	b, err := bson.Marshal(d)
	if err != nil {
		return err
	}
	return bson.Unmarshal(b, v)
}

// Fields returns the body keys in sorted order.
func (d Document) Fields() []string {
	keys := make([]string, 0, len(d.Body))
	for k := range d.Body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Envelope is embedded by typed resource models.
type Envelope struct {
	UID      string         `bson:"uid" json:"uid"`
	Metadata SystemMetadata `bson:"splash_md" json:"splash_md"`
}

// Ack is the {uid, splash_md} acknowledgement returned by every mutation.
type Ack struct {
	UID      string         `json:"uid"`
	Metadata SystemMetadata `json:"splash_md"`
}

func stripReserved(body bson.M) bson.M {
	out := make(bson.M, len(body))
	for k, v := range body {
		switch k {
		case FieldUID, FieldMetadata, "_id":
			continue
		}
		out[k] = v
	}
	return out
}

// ToData converts a typed payload into the map form accepted by Create and
// Update. Nested documents come back as bson.M.
func ToData(v interface{}) (bson.M, error) {
	b, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(b))
	if err != nil {
		return nil, err
	}
	dec.DefaultDocumentM()
	out := bson.M{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
