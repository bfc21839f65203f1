package session

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net/url"

	sliceutil "tlsengine/lib/slice"
)

// SANType identifies one kind of subjectAltName general name.
type SANType int

const (
	SANDNSName SANType = iota
	SANRFC822Name
	SANURI
	SANIPAddress
	SANDirectoryName
	SANOtherName
)

func (t SANType) String() string {
	switch t {
	case SANDNSName:
		return "dnsname"
	case SANRFC822Name:
		return "rfc822name"
	case SANURI:
		return "uri"
	case SANIPAddress:
		return "ipaddress"
	case SANDirectoryName:
		return "dn"
	case SANOtherName:
		return "othername"
	default:
		return "unknown"
	}
}

// SAN is one subjectAltName entry extracted from a peer certificate.
type SAN struct {
	Type  SANType
	Value string
}

// DistinguishedName returns the peer certificate's subject and issuer
// distinguished names, or ok=false if no peer certificate was retained.
func (s *Session) DistinguishedName() (subject, issuer string, ok bool) {
	cert := s.eng.PeerCertificate()
	if cert == nil {
		return "", "", false
	}
	return cert.Subject.String(), cert.Issuer.String(), true
}

const (
	tagOtherName     = 0
	tagRFC822Name    = 1
	tagDNSName       = 2
	tagDirectoryName = 4
	tagURI           = 6
	tagIPAddress     = 7
)

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// SubjectAltNames returns the peer certificate's subjectAltName entries,
// restricted to the given types (all types if filter is empty).
//
// crypto/x509.Certificate only surfaces dnsname/rfc822name/uri/ipaddress
// natively; directoryName and otherName general names are not exposed by
// the standard library, so those two are parsed by hand from the raw
// extension here.
func (s *Session) SubjectAltNames(filter []SANType) []SAN {
	cert := s.eng.PeerCertificate()
	if cert == nil {
		return nil
	}

	want := make(map[SANType]bool, len(filter))
	for _, t := range filter {
		want[t] = true
	}
	allowAll := len(filter) == 0
	add := func(out *[]SAN, t SANType, v string) {
		if allowAll || want[t] {
			*out = append(*out, SAN{Type: t, Value: v})
		}
	}

	var out []SAN
	for _, name := range cert.DNSNames {
		add(&out, SANDNSName, name)
	}
	for _, email := range cert.EmailAddresses {
		add(&out, SANRFC822Name, email)
	}
	for _, v := range sliceutil.Map(cert.URIs, func(u *url.URL) string { return u.String() }) {
		add(&out, SANURI, v)
	}
	for _, ip := range cert.IPAddresses {
		// Raw 4-byte/16-byte address data, not the human-readable form:
		// callers recover IPv4 vs IPv6 from the length, matching how the
		// original builds its address value directly from the ASN.1 payload
		// bytes rather than formatting them.
		if v4 := ip.To4(); v4 != nil {
			add(&out, SANIPAddress, string(v4))
		} else {
			add(&out, SANIPAddress, string(ip.To16()))
		}
	}

	if allowAll || want[SANDirectoryName] || want[SANOtherName] {
		for _, ext := range cert.Extensions {
			if !ext.Id.Equal(oidSubjectAltName) {
				continue
			}
			extractRawGeneralNames(ext.Value, func(tag int, raw []byte) {
				switch tag {
				case tagDirectoryName:
					var rdn pkix.RDNSequence
					if _, err := asn1.Unmarshal(raw, &rdn); err == nil {
						var name pkix.Name
						name.FillFromRDNSequence(&rdn)
						add(&out, SANDirectoryName, name.String())
					}
				case tagOtherName:
					add(&out, SANOtherName, fmt.Sprintf("%x", raw))
				}
			})
		}
	}

	return out
}

// extractRawGeneralNames walks a DER-encoded GeneralNames SEQUENCE, calling
// fn with each entry's context tag and raw content bytes.
func extractRawGeneralNames(sanExtension []byte, fn func(tag int, raw []byte)) {
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(sanExtension, &seq); err != nil {
		return
	}

	rest := seq.Bytes
	for len(rest) > 0 {
		var gn asn1.RawValue
		next, err := asn1.Unmarshal(rest, &gn)
		if err != nil {
			return
		}
		fn(gn.Tag, gn.Bytes)
		rest = next
	}
}
