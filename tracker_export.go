package stockpile

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Export formats are human-readable diagnostics, not a stable machine
// format; field sets may change between versions.

type exportAllocation struct {
	Address       string  `json:"address"`
	Size          int     `json:"size"`
	ActualSize    int     `json:"actual_size"`
	Alignment     int     `json:"alignment"`
	Category      string  `json:"category"`
	AllocatorType string  `json:"allocator_type"`
	AllocatorName string  `json:"allocator_name"`
	AllocatorID   uint32  `json:"allocator_id"`
	Tag           string  `json:"tag,omitempty"`
	AgeSeconds    float64 `json:"age_seconds"`
	IdleSeconds   float64 `json:"idle_seconds"`
	Accesses      uint64  `json:"accesses"`
	Writes        uint64  `json:"writes"`
	Leaked        bool    `json:"leaked,omitempty"`
}

type exportCategory struct {
	Category           string  `json:"category"`
	TotalAllocated     uint64  `json:"total_allocated"`
	CurrentAllocated   int     `json:"current_allocated"`
	PeakAllocated      int     `json:"peak_allocated"`
	TotalAllocations   uint64  `json:"total_allocations"`
	CurrentAllocations int     `json:"current_allocations"`
	WasteRatio         float64 `json:"waste_ratio"`
	FailedAllocations  uint64  `json:"failed_allocations"`
}

type exportBucket struct {
	MinSize     int    `json:"min_size"`
	MaxSize     int    `json:"max_size"`
	Allocations uint64 `json:"allocations"`
	Bytes       uint64 `json:"bytes"`
}

type exportSnapshot struct {
	GeneratedAt          time.Time          `json:"generated_at"`
	UptimeSeconds        float64            `json:"uptime_seconds"`
	TotalAllocated       uint64             `json:"total_allocated"`
	CurrentAllocated     int                `json:"current_allocated"`
	PeakAllocated        int                `json:"peak_allocated"`
	TotalAllocationsEver uint64             `json:"total_allocations_ever"`
	CurrentAllocations   int                `json:"current_allocations"`
	FailedAllocations    uint64             `json:"failed_allocations"`
	PressureLevel        string             `json:"pressure_level"`
	PressureRatio        float64            `json:"pressure_ratio"`
	Categories           []exportCategory   `json:"categories"`
	SizeDistribution     []exportBucket     `json:"size_distribution"`
	ActiveAllocations    []exportAllocation `json:"active_allocations"`
}

// ExportJSON writes a full diagnostic snapshot to path.
func (t *MemoryTracker) ExportJSON(path string) error {
	if t == nil {
		return eris.New("nil tracker")
	}
	now := time.Now()
	stats := t.GlobalStats()
	pressure := t.Pressure()

	snap := exportSnapshot{
		GeneratedAt:          now,
		UptimeSeconds:        stats.Uptime.Seconds(),
		TotalAllocated:       stats.TotalAllocated,
		CurrentAllocated:     stats.CurrentAllocated,
		PeakAllocated:        stats.PeakAllocated,
		TotalAllocationsEver: stats.TotalAllocationsEver,
		CurrentAllocations:   stats.CurrentAllocations,
		FailedAllocations:    stats.FailedAllocations,
		PressureLevel:        pressure.Level.String(),
		PressureRatio:        pressure.UsageRatio,
	}
	for _, cat := range stats.ByCategory {
		snap.Categories = append(snap.Categories, exportCategory{
			Category:           cat.Category.String(),
			TotalAllocated:     cat.TotalAllocated,
			CurrentAllocated:   cat.CurrentAllocated,
			PeakAllocated:      cat.PeakAllocated,
			TotalAllocations:   cat.TotalAllocations,
			CurrentAllocations: cat.CurrentAllocations,
			WasteRatio:         cat.WasteRatio,
			FailedAllocations:  cat.FailedAllocations,
		})
	}
	for _, b := range t.SizeDistribution() {
		snap.SizeDistribution = append(snap.SizeDistribution, exportBucket{
			MinSize:     b.MinSize,
			MaxSize:     b.MaxSize,
			Allocations: b.Allocations,
			Bytes:       b.Bytes,
		})
	}
	for _, rec := range t.ActiveAllocations() {
		snap.ActiveAllocations = append(snap.ActiveAllocations, exportAllocation{
			Address:       "0x" + strconv.FormatUint(uint64(rec.Address), 16),
			Size:          rec.Size,
			ActualSize:    rec.ActualSize,
			Alignment:     rec.Alignment,
			Category:      rec.Category.String(),
			AllocatorType: rec.AllocatorType.String(),
			AllocatorName: rec.AllocatorName,
			AllocatorID:   rec.AllocatorID,
			Tag:           rec.Tag,
			AgeSeconds:    now.Sub(rec.AllocatedAt).Seconds(),
			IdleSeconds:   now.Sub(rec.LastAccess).Seconds(),
			Accesses:      rec.Accesses,
			Writes:        rec.Writes,
			Leaked:        rec.Leaked,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshaling tracker snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "writing %s", path)
	}
	t.log.Info().Str("path", path).Msg("exported tracker snapshot")
	return nil
}

// ExportTimelineCSV writes the allocation timeline to path, one row per
// recorded slot, oldest first.
func (t *MemoryTracker) ExportTimelineCSV(path string) error {
	if t == nil {
		return eris.New("nil tracker")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"offset_seconds", "allocations", "deallocations",
		"bytes_allocated", "bytes_freed", "peak_bytes",
	}); err != nil {
		return eris.Wrap(err, "writing csv header")
	}
	for _, slot := range t.Timeline() {
		row := []string{
			strconv.FormatFloat(slot.Offset.Seconds(), 'f', 3, 64),
			strconv.FormatUint(slot.Allocations, 10),
			strconv.FormatUint(slot.Deallocations, 10),
			strconv.FormatUint(slot.BytesAlloc, 10),
			strconv.FormatUint(slot.BytesFreed, 10),
			strconv.Itoa(slot.PeakBytes),
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "writing csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "flushing csv")
	}
	t.log.Info().Str("path", path).Msg("exported allocation timeline")
	return nil
}
