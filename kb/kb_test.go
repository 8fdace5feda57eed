package kb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/powermodel-sim/model"
)

const catalogCSV = `module,kind,name,model,value,nominal_voltage,table
# memory macro
sram,event,read,constant,5e-5,,
sram,event,write,scaled,1e-3,1.2,
sram,state,off,constant,0,,
sram,state,on,table,,,0.8:5e-5;1.2:1e-4
radio,event,tx,constant,2e-3,,
`

func TestAddAndGet(t *testing.T) {
	store := NewKnowledgeBase()
	e := Entry{Module: "sram", Kind: KindEvent, Name: "read", Model: ModelConstant, Value: 5e-5}
	require.NoError(t, store.Add(e))

	got, ok := store.Get("sram", KindEvent, "read")
	require.True(t, ok)
	assert.Equal(t, e, got)

	_, ok = store.Get("sram", KindState, "read")
	assert.False(t, ok, "kind is part of the key")
}

func TestAddDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	e := Entry{Module: "sram", Kind: KindState, Name: "on", Value: 1e-4}
	require.NoError(t, store.Add(e))
	assert.Error(t, store.Add(e))

	// Same name, different module or kind.
	assert.NoError(t, store.Add(Entry{Module: "dram", Kind: KindState, Name: "on", Value: 1e-4}))
	assert.NoError(t, store.Add(Entry{Module: "sram", Kind: KindEvent, Name: "on", Value: 1e-9}))
}

func TestAddRejectsInvalidEntries(t *testing.T) {
	tt := []struct {
		name  string
		entry Entry
	}{
		{"no module", Entry{Kind: KindEvent, Name: "read"}},
		{"no name", Entry{Module: "sram", Kind: KindEvent}},
		{"bad kind", Entry{Module: "sram", Kind: "transition", Name: "read"}},
		{"bad model", Entry{Module: "sram", Kind: KindEvent, Name: "read", Model: "cubic"}},
		{"scaled without nominal", Entry{Module: "sram", Kind: KindEvent, Name: "read", Model: ModelScaled, Value: 1}},
		{"bad table", Entry{Module: "sram", Kind: KindState, Name: "on", Model: ModelTable, Table: "1.0"}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			err := NewKnowledgeBase().Add(tc.entry)
			assert.True(t, errors.Is(err, ErrInvalidEntry), "got %v", err)
		})
	}
}

func TestLoadCSVBuildsModels(t *testing.T) {
	store := NewKnowledgeBase()
	require.NoError(t, store.LoadCSV(strings.NewReader(catalogCSV)))

	assert.Equal(t, []string{"radio", "sram"}, store.Modules())
	entries := store.ListModule("sram")
	require.Len(t, entries, 4)
	assert.Equal(t, "read", entries[0].Name)
	assert.Equal(t, "on", entries[3].Name)

	read, err := store.EventModel("sram", "read")
	require.NoError(t, err)
	assert.InDelta(t, 5e-5, read.Energy(3.3), 1e-15)

	write, err := store.EventModel("sram", "write")
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, write.Energy(1.2), 1e-15)
	assert.InDelta(t, 4e-3, write.Energy(2.4), 1e-15)

	on, err := store.StateModel("sram", "on")
	require.NoError(t, err)
	assert.IsType(t, &model.TableCurrentState{}, on)
	assert.InDelta(t, 7.5e-5, on.Current(1.0), 1e-15)

	off, err := store.StateModel("sram", "off")
	require.NoError(t, err)
	assert.Equal(t, 0.0, off.Current(1.0))
}

func TestModelLookupNotFound(t *testing.T) {
	store := Default()
	_, err := store.EventModel("memory", "erase")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.StateModel("memory", "read")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCSVRejectsDuplicates(t *testing.T) {
	data := catalogCSV + "sram,event,read,constant,1e-5,,\n"
	assert.Error(t, NewKnowledgeBase().LoadCSV(strings.NewReader(data)))
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(catalogCSV), 0o644))

	store, err := FromFile(path)
	require.NoError(t, err)
	assert.Len(t, store.ListModule("radio"), 1)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestDefaultCatalog(t *testing.T) {
	store := Default()
	for _, name := range []string{"read", "write"} {
		_, err := store.EventModel("memory", name)
		assert.NoError(t, err, name)
	}
	on, err := store.StateModel("memory", "on")
	require.NoError(t, err)
	assert.Equal(t, 1e-4, on.Current(1.0))
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	var (
		mu   sync.Mutex
		seen []string
	)
	unsubscribe := store.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Type == EventEntryAdded {
			seen = append(seen, ev.Entry.Name)
		}
	})

	require.NoError(t, store.Add(Entry{Module: "sram", Kind: KindEvent, Name: "read"}))
	unsubscribe()
	require.NoError(t, store.Add(Entry{Module: "sram", Kind: KindEvent, Name: "write"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"read"}, seen)
}

func TestConcurrentAdds(t *testing.T) {
	store := NewKnowledgeBase()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Add(Entry{Module: "bank", Kind: KindState, Name: string(rune('a' + i))})
		}(i)
	}
	wg.Wait()
	assert.Len(t, store.ListModule("bank"), 20)
}
