package directory

import (
	"context"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEntryClient implements the Client interface for testing entry summaries.
type MockEntryClient struct {
	mock.Mock
}

func (m *MockEntryClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEntryClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockEntryClient) Bind(ctx context.Context, username, password string) error {
	args := m.Called(ctx, username, password)
	return args.Error(0)
}

func (m *MockEntryClient) BindWithConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEntryClient) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		if searchResult, ok := result.(*SearchResult); ok {
			return searchResult, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockEntryClient) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		if searchResult, ok := result.(*SearchResult); ok {
			return searchResult, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockEntryClient) Add(ctx context.Context, req *AddRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockEntryClient) Modify(ctx context.Context, req *ModifyRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockEntryClient) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockEntryClient) Delete(ctx context.Context, dn string) error {
	args := m.Called(ctx, dn)
	return args.Error(0)
}

func (m *MockEntryClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEntryClient) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		if whoami, ok := result.(*WhoAmIResult); ok {
			return whoami, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockEntryClient) GetBaseDN(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEntryClient) GetServerInfo(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		if info, ok := result.(map[string]any); ok {
			return info, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockEntryClient) Stats() PoolStats {
	args := m.Called()
	if stats := args.Get(0); stats != nil {
		if poolStats, ok := stats.(PoolStats); ok {
			return poolStats
		}
	}
	return PoolStats{}
}

// adGUIDBytes is the mixed-endian binary form of
// 12345678-1234-1234-1234-123456789012 as stored in objectGUID.
var adGUIDBytes = []byte{
	0x78, 0x56, 0x34, 0x12,
	0x34, 0x12,
	0x34, 0x12,
	0x12, 0x34,
	0x12, 0x34, 0x56, 0x78, 0x90, 0x12,
}

// adSIDBytes is the binary form of S-1-5-21-1-2-3.
var adSIDBytes = []byte{
	0x01, 0x04,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
	0x15, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00,
	0x02, 0x00, 0x00, 0x00,
	0x03, 0x00, 0x00, 0x00,
}

func TestFetchEntrySummary(t *testing.T) {
	dn := "CN=Jane Roe,OU=Users,DC=example,DC=com"

	mockClient := &MockEntryClient{}
	mockClient.On("Search", mock.Anything, mock.MatchedBy(func(req *SearchRequest) bool {
		return req.BaseDN == dn &&
			req.Scope == ScopeBaseObject &&
			req.Filter == "(objectClass=*)" &&
			req.SizeLimit == 1
	})).Return(&SearchResult{
		Entries: []*ldap.Entry{
			{
				DN: dn,
				Attributes: []*ldap.EntryAttribute{
					{Name: "objectGUID", ByteValues: [][]byte{adGUIDBytes}},
					{Name: "objectSid", ByteValues: [][]byte{adSIDBytes}},
					ldap.NewEntryAttribute("cn", []string{"Jane Roe"}),
					ldap.NewEntryAttribute("sAMAccountName", []string{"jroe"}),
					ldap.NewEntryAttribute("userPrincipalName", []string{"jroe@example.com"}),
					ldap.NewEntryAttribute("description", []string{"Director"}),
					ldap.NewEntryAttribute("objectClass", []string{"top", "person", "organizationalPerson", "user"}),
					ldap.NewEntryAttribute("whenCreated", []string{"20240115103000.0Z"}),
					ldap.NewEntryAttribute("whenChanged", []string{"20240301120000.0Z"}),
					ldap.NewEntryAttribute("userAccountControl", []string{"512"}),
				},
			},
		},
	}, nil)

	summary, err := FetchEntrySummary(context.Background(), mockClient, dn)

	require.NoError(t, err)
	assert.Equal(t, dn, summary.DN)
	assert.Equal(t, "12345678-1234-1234-1234-123456789012", summary.GUID)
	assert.Equal(t, "S-1-5-21-1-2-3", summary.SID)
	assert.Equal(t, "Jane Roe", summary.Name)
	assert.Equal(t, "jroe", summary.SAMAccountName)
	assert.Equal(t, "jroe@example.com", summary.UPN)
	assert.Equal(t, "Director", summary.Description)
	assert.Equal(t, []string{"top", "person", "organizationalPerson", "user"}, summary.Classes)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), summary.WhenCreated)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), summary.WhenChanged)
	require.NotNil(t, summary.Enabled)
	assert.True(t, *summary.Enabled)
	mockClient.AssertExpectations(t)
}

func TestFetchEntrySummary_DisabledAccount(t *testing.T) {
	dn := "CN=Old Account,OU=Users,DC=example,DC=com"

	mockClient := &MockEntryClient{}
	mockClient.On("Search", mock.Anything, mock.Anything).Return(&SearchResult{
		Entries: []*ldap.Entry{
			{
				DN: dn,
				Attributes: []*ldap.EntryAttribute{
					ldap.NewEntryAttribute("cn", []string{"Old Account"}),
					ldap.NewEntryAttribute("userAccountControl", []string{"514"}),
				},
			},
		},
	}, nil)

	summary, err := FetchEntrySummary(context.Background(), mockClient, dn)

	require.NoError(t, err)
	require.NotNil(t, summary.Enabled)
	assert.False(t, *summary.Enabled)
}

func TestFetchEntrySummary_NameFallback(t *testing.T) {
	dn := "OU=Staging,DC=example,DC=com"

	mockClient := &MockEntryClient{}
	mockClient.On("Search", mock.Anything, mock.Anything).Return(&SearchResult{
		Entries: []*ldap.Entry{
			{
				DN: dn,
				Attributes: []*ldap.EntryAttribute{
					ldap.NewEntryAttribute("name", []string{"Staging"}),
					ldap.NewEntryAttribute("objectClass", []string{"top", "organizationalUnit"}),
				},
			},
		},
	}, nil)

	summary, err := FetchEntrySummary(context.Background(), mockClient, dn)

	require.NoError(t, err)
	assert.Equal(t, "Staging", summary.Name)
	assert.Nil(t, summary.Enabled, "objects without userAccountControl have no enabled state")
}

func TestFetchEntrySummary_NotFound(t *testing.T) {
	mockClient := &MockEntryClient{}
	mockClient.On("Search", mock.Anything, mock.Anything).Return(&SearchResult{
		Entries: []*ldap.Entry{},
	}, nil)

	_, err := FetchEntrySummary(context.Background(), mockClient, "CN=Ghost,DC=example,DC=com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entry at")
}

func TestParseGeneralizedTime(t *testing.T) {
	parsed, err := ParseGeneralizedTime("20240115103000.0Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), parsed)

	_, err = ParseGeneralizedTime("2024-01-15T10:30:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid generalized time")

	_, err = ParseGeneralizedTime("")
	require.Error(t, err)
}

func TestParseFileTime(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Time
		wantErr  string
	}{
		{
			name:     "Valid interval timestamp",
			value:    "133497504000000000",
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "Empty value",
			value:   "",
			wantErr: "empty or zero",
		},
		{
			name:    "Zero value",
			value:   "0",
			wantErr: "empty or zero",
		},
		{
			name:    "Not a number",
			value:   "never",
			wantErr: "invalid timestamp",
		},
		{
			name:    "Before epoch",
			value:   "116444736000000000",
			wantErr: "before Unix epoch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseFileTime(tt.value)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, parsed)
		})
	}
}
