package document

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
)

type xmlRoot struct {
	XMLName  xml.Name    `xml:"WebOfTrust"`
	Identity xmlIdentity `xml:"Identity"`
}

type xmlIdentity struct {
	Version            int           `xml:"Version,attr"`
	Name               string        `xml:"Name,attr"`
	PublishesTrustList bool          `xml:"PublishesTrustList,attr"`
	Contexts           []xmlContext  `xml:"Context"`
	Properties         []xmlProperty `xml:"Property"`
	TrustList          *xmlTrustList `xml:"TrustList"`
}

type xmlContext struct {
	Name string `xml:"Name,attr"`
}

type xmlProperty struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

type xmlTrustList struct {
	Trusts []xmlTrust `xml:"Trust"`
}

type xmlTrust struct {
	Identity string `xml:"Identity,attr"`
	Value    int    `xml:"Value,attr"`
	Comment  string `xml:"Comment,attr"`
}

// Encode writes doc as XML. RequestKey and Edition are not part of the body.
func Encode(w io.Writer, doc *Document) error {
	root := xmlRoot{Identity: xmlIdentity{
		Version:            FormatVersion,
		Name:               doc.Nickname,
		PublishesTrustList: doc.PublishesTrustList,
	}}
	for _, c := range doc.Contexts {
		root.Identity.Contexts = append(root.Identity.Contexts, xmlContext{Name: c})
	}
	names := make([]string, 0, len(doc.Properties))
	for name := range doc.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		root.Identity.Properties = append(root.Identity.Properties, xmlProperty{Name: name, Value: doc.Properties[name]})
	}
	if doc.PublishesTrustList {
		list := &xmlTrustList{}
		for _, t := range doc.Trusts {
			list.Trusts = append(list.Trusts, xmlTrust{Identity: t.TrusteeRequestKey, Value: t.Value, Comment: t.Comment})
		}
		root.Identity.TrustList = list
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	return enc.Flush()
}

// Decode reads an XML document published under requestKey at the given
// edition. It rejects only XML it cannot parse and format versions newer
// than FormatVersion; field bounds are left to the importer, which applies
// what it can and reports the rest.
func Decode(r io.Reader, requestKey string, edition int64) (*Document, error) {
	var root xmlRoot
	dec := xml.NewDecoder(io.LimitReader(r, 1<<20))
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	id := root.Identity
	if id.Version > FormatVersion {
		return nil, fmt.Errorf("%w: version %d > %d", ErrMalformed, id.Version, FormatVersion)
	}
	doc := &Document{
		RequestKey:         requestKey,
		Edition:            edition,
		Version:            id.Version,
		Nickname:           id.Name,
		PublishesTrustList: id.PublishesTrustList,
		Properties:         make(map[string]string, len(id.Properties)),
	}
	for _, c := range id.Contexts {
		doc.Contexts = append(doc.Contexts, c.Name)
	}
	for _, p := range id.Properties {
		doc.Properties[p.Name] = p.Value
	}
	if id.PublishesTrustList && id.TrustList != nil {
		for _, t := range id.TrustList.Trusts {
			doc.Trusts = append(doc.Trusts, TrustEntry{
				TrusteeRequestKey: t.Identity,
				Value:             t.Value,
				Comment:           t.Comment,
			})
		}
	}
	return doc, nil
}
