package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// EntrySummary is the displayable digest of a directory entry, used by the
// inspection commands.
type EntrySummary struct {
	DN             string
	GUID           string
	SID            string
	Name           string
	SAMAccountName string
	UPN            string
	Description    string
	Classes        []string
	WhenCreated    time.Time
	WhenChanged    time.Time
	Enabled        *bool // nil for objects without userAccountControl
}

// summaryAttributes are the attributes fetched for an entry summary.
var summaryAttributes = []string{
	"objectGUID", "objectSid", "distinguishedName", "cn", "name",
	"sAMAccountName", "userPrincipalName", "description", "objectClass",
	"whenCreated", "whenChanged", "userAccountControl",
}

const uacAccountDisabled = 0x0002

// FetchEntrySummary reads the entry at dn and digests it for display.
func FetchEntrySummary(ctx context.Context, client Client, dn string) (*EntrySummary, error) {
	result, err := client.Search(ctx, &SearchRequest{
		BaseDN:     dn,
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: summaryAttributes,
		SizeLimit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, NewLDAPError("fetch_entry", fmt.Errorf("no entry at %s", dn))
	}

	entry := result.Entries[0]
	summary := &EntrySummary{
		DN:             entry.DN,
		GUID:           NewGUIDHandler().ExtractGUIDSafe(entry),
		SID:            NewSIDHandler().ExtractSIDSafe(entry),
		Name:           entry.GetAttributeValue("cn"),
		SAMAccountName: entry.GetAttributeValue("sAMAccountName"),
		UPN:            entry.GetAttributeValue("userPrincipalName"),
		Description:    entry.GetAttributeValue("description"),
		Classes:        entry.GetAttributeValues("objectClass"),
	}
	if summary.Name == "" {
		summary.Name = entry.GetAttributeValue("name")
	}

	if created := entry.GetAttributeValue("whenCreated"); created != "" {
		if t, err := ParseGeneralizedTime(created); err == nil {
			summary.WhenCreated = t
		}
	}
	if changed := entry.GetAttributeValue("whenChanged"); changed != "" {
		if t, err := ParseGeneralizedTime(changed); err == nil {
			summary.WhenChanged = t
		}
	}

	if uacStr := entry.GetAttributeValue("userAccountControl"); uacStr != "" {
		if uac, err := strconv.ParseInt(uacStr, 10, 32); err == nil {
			enabled := uac&uacAccountDisabled == 0
			summary.Enabled = &enabled
		}
	}

	return summary, nil
}

// ParseGeneralizedTime parses the directory's generalized time format.
func ParseGeneralizedTime(value string) (time.Time, error) {
	t, err := time.Parse("20060102150405.0Z", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid generalized time %q: %w", value, err)
	}
	return t, nil
}

// ParseFileTime parses an Active Directory interval timestamp, counted in
// 100-nanosecond ticks since January 1, 1601 UTC.
func ParseFileTime(value string) (time.Time, error) {
	if value == "" || value == "0" {
		return time.Time{}, fmt.Errorf("empty or zero timestamp")
	}

	ticks, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}

	const epochOffset = 116444736000000000
	if ticks <= epochOffset {
		return time.Time{}, fmt.Errorf("timestamp %q before Unix epoch", value)
	}

	return time.Unix(0, (ticks-epochOffset)*100).UTC(), nil
}
