package statusview

import (
	"context"
	"math/big"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/store"
)

type fakeBreaker struct{ open bool }

func (f fakeBreaker) IsOpen() bool { return f.open }

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testCfg() func() *config.Config {
	cfg := &config.Config{StatusView: config.StatusViewConfig{RefreshRateMs: 500, LogLines: 5}}
	return func() *config.Config { return cfg }
}

func TestUpdate_RefreshMsgPopulatesState(t *testing.T) {
	db := newTestDB(t)
	m := NewModel(db, fakeBreaker{open: true}, testCfg())

	positions := []*store.Position{{TokenMint: "Mint1", RawBalance: big.NewInt(100), Status: store.PositionConfirmed}}
	updated, _ := m.Update(refreshMsg{positions: positions, breakerOpen: true})
	um := updated.(*Model)

	if len(um.positions) != 1 || !um.breakerOpen {
		t.Fatalf("expected refresh to populate positions and breaker state, got %+v", um)
	}
}

func TestUpdate_QuitKeyReturnsQuitCmd(t *testing.T) {
	db := newTestDB(t)
	m := NewModel(db, fakeBreaker{}, testCfg())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected a quit command for 'q'")
	}
}

func TestView_RendersBreakerOpenState(t *testing.T) {
	db := newTestDB(t)
	m := NewModel(db, fakeBreaker{}, testCfg())
	m.breakerOpen = true

	out := m.View()
	if out == "" {
		t.Fatalf("expected non-empty view output")
	}
}

func TestRefreshCmd_ReadsFromStore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.UpsertPosition(ctx, &store.Position{
		TokenMint: "Mint1", RawBalance: big.NewInt(1), Decimals: 6, Status: store.PositionConfirmed,
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	m := NewModel(db, fakeBreaker{open: false}, testCfg())
	msg := m.refreshCmd()()
	rm, ok := msg.(refreshMsg)
	if !ok {
		t.Fatalf("expected refreshMsg, got %T", msg)
	}
	if len(rm.positions) != 1 {
		t.Fatalf("expected 1 seeded position, got %d", len(rm.positions))
	}
}
