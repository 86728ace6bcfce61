package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/adimport/internal/engine"
)

// MockSubmitClient implements the Client interface for testing change
// submission.
type MockSubmitClient struct {
	mock.Mock
}

func (m *MockSubmitClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSubmitClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSubmitClient) Bind(ctx context.Context, username, password string) error {
	args := m.Called(ctx, username, password)
	return args.Error(0)
}

func (m *MockSubmitClient) BindWithConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSubmitClient) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		if searchResult, ok := result.(*SearchResult); ok {
			return searchResult, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockSubmitClient) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		if searchResult, ok := result.(*SearchResult); ok {
			return searchResult, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockSubmitClient) Add(ctx context.Context, req *AddRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockSubmitClient) Modify(ctx context.Context, req *ModifyRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockSubmitClient) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockSubmitClient) Delete(ctx context.Context, dn string) error {
	args := m.Called(ctx, dn)
	return args.Error(0)
}

func (m *MockSubmitClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSubmitClient) WhoAmI(ctx context.Context) (*WhoAmIResult, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		if whoami, ok := result.(*WhoAmIResult); ok {
			return whoami, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockSubmitClient) GetBaseDN(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSubmitClient) GetServerInfo(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		if info, ok := result.(map[string]any); ok {
			return info, args.Error(1)
		}
	}
	return nil, args.Error(1)
}

func (m *MockSubmitClient) Stats() PoolStats {
	args := m.Called()
	if stats := args.Get(0); stats != nil {
		if poolStats, ok := stats.(PoolStats); ok {
			return poolStats
		}
	}
	return PoolStats{}
}

const testContainer = "OU=Import,DC=example,DC=com"

func TestSubmitter_Submit_Create(t *testing.T) {
	tests := []struct {
		name       string
		objectType string
		changes    []engine.AttributeChange
		wantDN     string
		wantAttrs  map[string][]string
	}{
		{
			name:       "User with default object classes",
			objectType: "user",
			changes: []engine.AttributeChange{
				{Name: "cn", Operation: engine.OpSet, Value: "Jane Roe", Resolved: true},
				{Name: "sAMAccountName", Operation: engine.OpSet, Value: "jroe", Resolved: true},
				{Name: "title", Operation: engine.OpSet, Value: "Director", Resolved: true},
			},
			wantDN: "CN=Jane Roe,OU=Import,DC=example,DC=com",
			wantAttrs: map[string][]string{
				"cn":             {"Jane Roe"},
				"sAMAccountName": {"jroe"},
				"title":          {"Director"},
				"objectClass":    {"top", "person", "organizationalPerson", "user"},
			},
		},
		{
			name:       "Object type lookup is case insensitive",
			objectType: "User",
			changes: []engine.AttributeChange{
				{Name: "cn", Operation: engine.OpSet, Value: "Jane Roe", Resolved: true},
			},
			wantDN: "CN=Jane Roe,OU=Import,DC=example,DC=com",
			wantAttrs: map[string][]string{
				"cn":          {"Jane Roe"},
				"objectClass": {"top", "person", "organizationalPerson", "user"},
			},
		},
		{
			name:       "Multi-valued adds accumulate",
			objectType: "group",
			changes: []engine.AttributeChange{
				{Name: "cn", Operation: engine.OpSet, Value: "App Admins", Resolved: true},
				{Name: "member", Operation: engine.OpAdd, Value: "CN=Jane Roe,OU=Users,DC=example,DC=com", Resolved: true},
				{Name: "member", Operation: engine.OpAdd, Value: "CN=John Doe,OU=Users,DC=example,DC=com", Resolved: true},
			},
			wantDN: "CN=App Admins,OU=Import,DC=example,DC=com",
			wantAttrs: map[string][]string{
				"cn": {"App Admins"},
				"member": {
					"CN=Jane Roe,OU=Users,DC=example,DC=com",
					"CN=John Doe,OU=Users,DC=example,DC=com",
				},
				"objectClass": {"top", "group"},
			},
		},
		{
			name:       "Row-supplied object classes win",
			objectType: "user",
			changes: []engine.AttributeChange{
				{Name: "cn", Operation: engine.OpSet, Value: "Service Account", Resolved: true},
				{Name: "objectClass", Operation: engine.OpAdd, Value: "top", Resolved: true},
				{Name: "objectClass", Operation: engine.OpAdd, Value: "inetOrgPerson", Resolved: true},
			},
			wantDN: "CN=Service Account,OU=Import,DC=example,DC=com",
			wantAttrs: map[string][]string{
				"cn":          {"Service Account"},
				"objectClass": {"top", "inetOrgPerson"},
			},
		},
		{
			name:       "Organizational unit names with ou",
			objectType: "ou",
			changes: []engine.AttributeChange{
				{Name: "ou", Operation: engine.OpSet, Value: "Staging", Resolved: true},
			},
			wantDN: "OU=Staging,OU=Import,DC=example,DC=com",
			wantAttrs: map[string][]string{
				"ou":          {"Staging"},
				"objectClass": {"top", "organizationalUnit"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &MockSubmitClient{}
			submitter := NewSubmitter(mockClient, testContainer, nil, nil)

			var captured *AddRequest
			mockClient.On("Add", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				captured = args.Get(1).(*AddRequest)
			}).Return(nil)

			dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
				Kind:       engine.OperationCreate,
				ObjectType: tt.objectType,
				Changes:    tt.changes,
				Line:       2,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantDN, dn)
			require.NotNil(t, captured)
			assert.Equal(t, tt.wantDN, captured.DN)
			assert.Equal(t, tt.wantAttrs, captured.Attributes)
			mockClient.AssertExpectations(t)
		})
	}
}

func TestSubmitter_Submit_Create_Errors(t *testing.T) {
	tests := []struct {
		name       string
		objectType string
		changes    []engine.AttributeChange
		wantErr    string
	}{
		{
			name:       "Unknown object type",
			objectType: "widget",
			changes: []engine.AttributeChange{
				{Name: "cn", Operation: engine.OpSet, Value: "Sprocket", Resolved: true},
			},
			wantErr: "no object class mapping",
		},
		{
			name:       "Missing naming value",
			objectType: "user",
			changes: []engine.AttributeChange{
				{Name: "title", Operation: engine.OpSet, Value: "Director", Resolved: true},
			},
			wantErr: "requires a cn value",
		},
		{
			name:       "Remove during create",
			objectType: "user",
			changes: []engine.AttributeChange{
				{Name: "cn", Operation: engine.OpSet, Value: "Jane Roe", Resolved: true},
				{Name: "title", Operation: engine.OpRemove, Value: "", Resolved: true},
			},
			wantErr: "cannot remove attribute title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &MockSubmitClient{}
			submitter := NewSubmitter(mockClient, testContainer, nil, nil)

			_, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
				Kind:       engine.OperationCreate,
				ObjectType: tt.objectType,
				Changes:    tt.changes,
				Line:       2,
			})

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			mockClient.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitter_Submit_Modify(t *testing.T) {
	target := "CN=Jane Roe,OU=Users,DC=example,DC=com"

	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	var captured *ModifyRequest
	mockClient.On("Modify", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*ModifyRequest)
	}).Return(nil)

	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:       engine.OperationModify,
		ObjectType: "user",
		TargetDN:   target,
		Changes: []engine.AttributeChange{
			{Name: "title", Operation: engine.OpSet, Value: "Director", Resolved: true},
			{Name: "otherTelephone", Operation: engine.OpAdd, Value: "+44 20 7946 0958", Resolved: true},
			{Name: "otherTelephone", Operation: engine.OpRemove, Value: "+1 555 0100", Resolved: true},
			{Name: "description", Operation: engine.OpRemove, Value: "", Resolved: true},
		},
		Line: 3,
	})

	require.NoError(t, err)
	assert.Equal(t, target, dn)
	require.NotNil(t, captured)
	assert.Equal(t, target, captured.DN)
	assert.Equal(t, map[string][]string{"title": {"Director"}}, captured.ReplaceAttributes)
	assert.Equal(t, map[string][]string{"otherTelephone": {"+44 20 7946 0958"}}, captured.AddAttributes)
	assert.Equal(t, map[string][]string{
		"otherTelephone": {"+1 555 0100"},
		"description":    {},
	}, captured.DeleteAttributes)
	mockClient.AssertExpectations(t)
	mockClient.AssertNotCalled(t, "ModifyDN", mock.Anything, mock.Anything)
}

func TestSubmitter_Submit_Modify_NoChanges(t *testing.T) {
	target := "CN=Jane Roe,OU=Users,DC=example,DC=com"

	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:     engine.OperationModify,
		TargetDN: target,
	})

	require.NoError(t, err)
	assert.Equal(t, target, dn)
	mockClient.AssertNotCalled(t, "Modify", mock.Anything, mock.Anything)
}

func TestSubmitter_Submit_Modify_Rename(t *testing.T) {
	target := "CN=Old Name,OU=Users,DC=example,DC=com"
	renamed := "CN=New Name,OU=Users,DC=example,DC=com"

	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	mockClient.On("ModifyDN", mock.Anything, mock.MatchedBy(func(req *ModifyDNRequest) bool {
		return req.DN == target &&
			req.NewRDN == "CN=New Name" &&
			req.DeleteOldRDN &&
			req.NewSuperior == ""
	})).Return(nil)

	// Remaining changes land on the renamed object
	var captured *ModifyRequest
	mockClient.On("Modify", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*ModifyRequest)
	}).Return(nil)

	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:       engine.OperationModify,
		ObjectType: "user",
		TargetDN:   target,
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "New Name", Resolved: true},
			{Name: "title", Operation: engine.OpSet, Value: "Director", Resolved: true},
		},
		Line: 4,
	})

	require.NoError(t, err)
	assert.Equal(t, renamed, dn)
	require.NotNil(t, captured)
	assert.Equal(t, renamed, captured.DN)
	assert.Equal(t, map[string][]string{"title": {"Director"}}, captured.ReplaceAttributes)
	mockClient.AssertExpectations(t)
}

func TestSubmitter_Submit_Modify_RenameEscapesValue(t *testing.T) {
	target := "CN=Jane Roe,OU=Users,DC=example,DC=com"

	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	mockClient.On("ModifyDN", mock.Anything, mock.MatchedBy(func(req *ModifyDNRequest) bool {
		return req.NewRDN == "CN=Roe\\, Jane"
	})).Return(nil)

	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:     engine.OperationModify,
		TargetDN: target,
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "Roe, Jane", Resolved: true},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "CN=Roe\\, Jane,OU=Users,DC=example,DC=com", dn)
	mockClient.AssertExpectations(t)
}

func TestSubmitter_Submit_Modify_RenameNoOp(t *testing.T) {
	target := "CN=Jane Roe,OU=Users,DC=example,DC=com"

	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	// Same naming value in different case is not a rename
	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:     engine.OperationModify,
		TargetDN: target,
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "jane roe", Resolved: true},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, target, dn)
	mockClient.AssertNotCalled(t, "ModifyDN", mock.Anything, mock.Anything)
	mockClient.AssertNotCalled(t, "Modify", mock.Anything, mock.Anything)
}

func TestSubmitter_Submit_Modify_RenameRejectsMultipleValues(t *testing.T) {
	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	_, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:     engine.OperationModify,
		TargetDN: "CN=Jane Roe,OU=Users,DC=example,DC=com",
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "First", Resolved: true},
			{Name: "cn", Operation: engine.OpSet, Value: "Second", Resolved: true},
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one value")
	mockClient.AssertNotCalled(t, "ModifyDN", mock.Anything, mock.Anything)
}

func TestSubmitter_Submit_Delete(t *testing.T) {
	target := "CN=Jane Roe,OU=Users,DC=example,DC=com"

	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	mockClient.On("Delete", mock.Anything, target).Return(nil)

	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:     engine.OperationDelete,
		TargetDN: target,
	})

	require.NoError(t, err)
	assert.Equal(t, target, dn)
	mockClient.AssertExpectations(t)
}

func TestSubmitter_Submit_UnsupportedKind(t *testing.T) {
	mockClient := &MockSubmitClient{}
	submitter := NewSubmitter(mockClient, testContainer, nil, nil)

	_, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind: engine.OperationResolve,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be submitted")
}

func TestSubmitter_DryRun(t *testing.T) {
	// The dry-run submitter has no client; reaching the directory would panic.
	submitter := NewDryRunSubmitter(testContainer, nil, nil)
	ctx := context.Background()

	dn, err := submitter.Submit(ctx, &engine.ChangeRequest{
		Kind:       engine.OperationCreate,
		ObjectType: "user",
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "Jane Roe", Resolved: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "CN=Jane Roe,OU=Import,DC=example,DC=com", dn)

	dn, err = submitter.Submit(ctx, &engine.ChangeRequest{
		Kind:     engine.OperationModify,
		TargetDN: "CN=Old Name,OU=Users,DC=example,DC=com",
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "New Name", Resolved: true},
			{Name: "title", Operation: engine.OpSet, Value: "Director", Resolved: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "CN=New Name,OU=Users,DC=example,DC=com", dn)

	dn, err = submitter.Submit(ctx, &engine.ChangeRequest{
		Kind:     engine.OperationDelete,
		TargetDN: "CN=Jane Roe,OU=Users,DC=example,DC=com",
	})
	require.NoError(t, err)
	assert.Equal(t, "CN=Jane Roe,OU=Users,DC=example,DC=com", dn)
}

func TestSubmitter_CustomSpecs(t *testing.T) {
	mockClient := &MockSubmitClient{}
	specs := map[string]ObjectClassSpec{
		"Device": {Classes: []string{"top", "device"}, RDN: "cn"},
	}
	submitter := NewSubmitter(mockClient, testContainer, specs, nil)

	var captured *AddRequest
	mockClient.On("Add", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*AddRequest)
	}).Return(nil)

	dn, err := submitter.Submit(context.Background(), &engine.ChangeRequest{
		Kind:       engine.OperationCreate,
		ObjectType: "device",
		Changes: []engine.AttributeChange{
			{Name: "cn", Operation: engine.OpSet, Value: "sensor-01", Resolved: true},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "CN=sensor-01,OU=Import,DC=example,DC=com", dn)
	require.NotNil(t, captured)
	assert.Equal(t, []string{"top", "device"}, captured.Attributes["objectClass"])
	mockClient.AssertExpectations(t)
}

func TestDefaultObjectClassSpecs(t *testing.T) {
	specs := DefaultObjectClassSpecs()

	assert.Equal(t, []string{"top", "person", "organizationalPerson", "user"}, specs["user"].Classes)
	assert.Equal(t, "cn", specs["user"].RDN)
	assert.Equal(t, []string{"top", "group"}, specs["group"].Classes)
	assert.Equal(t, "ou", specs["ou"].RDN)
}
