package repository

import (
    "fmt"
    "time"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// SeedDemo loads one event with two ticket categories and a small seat
// map into an empty memory ledger.  It is meant for local runs only.
func SeedDemo(l *MemoryLedger, startsAt time.Time) {
    l.AddEvent(model.Event{ID: 1, Title: "Demo Night", StartsAt: startsAt.UTC()})
    l.AddCategory(model.Category{ID: 1, EventID: 1, Name: "Stalls", PriceCents: 4500, Capacity: 30})
    l.AddCategory(model.Category{ID: 2, EventID: 1, Name: "Balcony", PriceCents: 2500, Capacity: 20})
    var id uint64
    for row, cat := range map[string]uint64{"S": 1, "B": 2} {
        n := 30
        if cat == 2 {
            n = 20
        }
        for i := 1; i <= n; i++ {
            id = cat*1000 + uint64(i)
            l.AddSeat(model.Seat{ID: id, CategoryID: cat, Label: fmt.Sprintf("%s%d", row, i)})
        }
    }
}
