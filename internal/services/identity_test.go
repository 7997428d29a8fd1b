package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/events"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/oracle"
	"github.com/agent-trust/registry/internal/storage"
)

type testEnv struct {
	db         *storage.Memory
	tokens     *oracle.TokenLedger
	identity   *IdentityService
	reputation *ReputationService
	validation *ValidationService
}

var authority = testAddr(0xff)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := storage.NewMemory()
	tokens := oracle.NewTokenLedger()
	emitter := events.NullEmitter{}
	identity := NewIdentityService(db, tokens, emitter)
	reputation := NewReputationService(db, identity, emitter)
	validation := NewValidationService(db, identity, emitter)

	_, err := identity.Initialize(context.Background(), authority)
	require.NoError(t, err)

	return &testEnv{
		db:         db,
		tokens:     tokens,
		identity:   identity,
		reputation: reputation,
		validation: validation,
	}
}

func testAddr(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func testHash(b byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func (env *testEnv) mintToken(t *testing.T, mint, holder address.Address) {
	t.Helper()

	tx, err := env.db.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, env.tokens.Mint(tx, mint, holder))
	require.NoError(t, tx.Commit())
}

func (env *testEnv) registerAgent(t *testing.T, owner address.Address, mintByte byte) *models.Agent {
	t.Helper()

	mint := testAddr(mintByte)
	env.mintToken(t, mint, owner)
	agent, err := env.identity.Register(context.Background(), owner, RegisterRequest{
		Mint:     mint,
		TokenURI: "https://agents.example/card.json",
	})
	require.NoError(t, err)
	return agent
}

func TestInitializeOnce(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.identity.Initialize(context.Background(), authority)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)

	for i := byte(0); i < 3; i++ {
		agent := env.registerAgent(t, owner, 0x10+i)
		assert.Equal(t, uint64(i), agent.AgentID)
	}

	config, err := env.identity.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), config.NextAgentID)
	assert.Equal(t, uint64(3), config.TotalAgents)
}

func TestRegisterRequiresTokenHolder(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	stranger := testAddr(0x02)
	mint := testAddr(0x10)
	env.mintToken(t, mint, owner)

	_, err := env.identity.Register(context.Background(), stranger, RegisterRequest{Mint: mint})
	assert.ErrorIs(t, err, oracle.ErrInvalidTokenAccount)

	_, err = env.identity.Register(context.Background(), owner, RegisterRequest{Mint: testAddr(0x11)})
	assert.ErrorIs(t, err, oracle.ErrTokenNotFound)
}

func TestRegisterRejectsDuplicateMint(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)

	_, err := env.identity.Register(context.Background(), owner, RegisterRequest{Mint: agent.Mint})
	assert.ErrorIs(t, err, ErrAgentExists)
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	mint := testAddr(0x10)
	env.mintToken(t, mint, owner)

	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"URI too long", RegisterRequest{Mint: mint, TokenURI: strings.Repeat("u", models.MaxURILength+1)}, ErrURITooLong},
		{"key too long", RegisterRequest{Mint: mint, Metadata: []models.MetadataEntry{{Key: strings.Repeat("k", models.MaxMetadataKey+1)}}}, ErrKeyTooLong},
		{"value too long", RegisterRequest{Mint: mint, Metadata: []models.MetadataEntry{{Key: "k", Value: make([]byte, models.MaxMetadataValue+1)}}}, ErrValueTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.identity.Register(context.Background(), owner, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSetMetadataReplacesAndAppends(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	require.NoError(t, env.identity.SetMetadata(ctx, owner, agent.AgentID, "model", []byte("v1")))
	require.NoError(t, env.identity.SetMetadata(ctx, owner, agent.AgentID, "model", []byte("v2")))

	got, err := env.identity.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	require.Len(t, got.Metadata, 1)
	assert.Equal(t, []byte("v2"), got.Metadata[0].Value)
}

func TestSetMetadataEnforcesCap(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	for i := 0; i < models.MaxMetadataCount; i++ {
		key := "key" + string(rune('a'+i))
		require.NoError(t, env.identity.SetMetadata(ctx, owner, agent.AgentID, key, []byte("v")))
	}

	// An eleventh key is rejected, but updating an existing key still works
	err := env.identity.SetMetadata(ctx, owner, agent.AgentID, "overflow", []byte("v"))
	assert.ErrorIs(t, err, ErrMetadataLimitReached)
	assert.NoError(t, env.identity.SetMetadata(ctx, owner, agent.AgentID, "keya", []byte("updated")))
}

func TestSetMetadataOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)

	err := env.identity.SetMetadata(context.Background(), testAddr(0x02), agent.AgentID, "k", []byte("v"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRemoveMetadata(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	require.NoError(t, env.identity.SetMetadata(ctx, owner, agent.AgentID, "k", []byte("v")))
	require.NoError(t, env.identity.RemoveMetadata(ctx, owner, agent.AgentID, "k"))

	got, err := env.identity.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata)

	err = env.identity.RemoveMetadata(ctx, owner, agent.AgentID, "k")
	assert.ErrorIs(t, err, ErrMetadataNotFound)
}

func TestMetadataExtensions(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	ext, err := env.identity.CreateMetadataExtension(ctx, owner, agent.AgentID, 0)
	require.NoError(t, err)
	assert.Equal(t, agent.Mint, ext.Mint)

	_, err = env.identity.CreateMetadataExtension(ctx, owner, agent.AgentID, 0)
	assert.ErrorIs(t, err, ErrExtensionExists)

	require.NoError(t, env.identity.SetMetadataExtended(ctx, owner, agent.AgentID, 0, "extra", []byte("v")))
	got, err := env.identity.GetExtension(ctx, agent.AgentID, 0)
	require.NoError(t, err)
	require.Len(t, got.Metadata, 1)
	assert.Equal(t, "extra", got.Metadata[0].Key)

	err = env.identity.SetMetadataExtended(ctx, owner, agent.AgentID, 1, "k", []byte("v"))
	assert.ErrorIs(t, err, ErrExtensionNotFound)
}

func TestSetAgentURI(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	require.NoError(t, env.identity.SetAgentURI(ctx, owner, agent.AgentID, "https://agents.example/v2.json"))

	got, err := env.identity.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "https://agents.example/v2.json", got.TokenURI)

	err = env.identity.SetAgentURI(ctx, testAddr(0x02), agent.AgentID, "https://other.example")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSyncOwnerFollowsOracle(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	newHolder := testAddr(0x02)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	// Move the token behind the registry's back
	tx, err := env.db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, env.tokens.Transfer(tx, agent.Mint, newHolder))
	require.NoError(t, tx.Commit())

	// Any caller can trigger the sync
	synced, err := env.identity.SyncOwner(ctx, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, newHolder, synced.Owner)
}

func TestTransferAgent(t *testing.T) {
	env := newTestEnv(t)
	owner := testAddr(0x01)
	dest := testAddr(0x02)
	agent := env.registerAgent(t, owner, 0x10)
	ctx := context.Background()

	_, err := env.identity.TransferAgent(ctx, dest, agent.AgentID, dest)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.identity.TransferAgent(ctx, owner, agent.AgentID, owner)
	assert.ErrorIs(t, err, oracle.ErrTransferToSelf)

	got, err := env.identity.TransferAgent(ctx, owner, agent.AgentID, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got.Owner)

	// The previous owner lost control
	err = env.identity.SetMetadata(ctx, owner, agent.AgentID, "k", []byte("v"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NoError(t, env.identity.SetMetadata(ctx, dest, agent.AgentID, "k", []byte("v")))
}

func TestGetAgentNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.identity.GetAgent(context.Background(), 42)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestOperationsRequireInitializedLedger(t *testing.T) {
	db := storage.NewMemory()
	tokens := oracle.NewTokenLedger()
	identity := NewIdentityService(db, tokens, events.NullEmitter{})

	_, err := identity.Register(context.Background(), testAddr(0x01), RegisterRequest{Mint: testAddr(0x10)})
	assert.ErrorIs(t, err, ErrNotInitialized)
}
