package delivery

import (
	"fmt"
	"sort"
	"strconv"

	"FoodOrders/internal/models"
)

// SortZones возвращает отсортированную копию: по возрастанию max_distance,
// зоны без ограничения в конце, при равенстве - по цене, затем по названию.
func SortZones(zones models.DeliveryZones) models.DeliveryZones {
	sorted := make(models.DeliveryZones, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.MaxDistance == nil && b.MaxDistance != nil:
			return false
		case a.MaxDistance != nil && b.MaxDistance == nil:
			return true
		case a.MaxDistance != nil && *a.MaxDistance != *b.MaxDistance:
			return *a.MaxDistance < *b.MaxDistance
		}
		if !a.Cost.Equal(b.Cost) {
			return a.Cost.LessThan(b.Cost)
		}
		return a.Label < b.Label
	})
	return sorted
}

// ResolveZone выбирает первую зону, в которую попадает расстояние.
// Порядок хранения зон на результат не влияет.
func ResolveZone(zones models.DeliveryZones, distanceKm float64) (models.DeliveryZone, error) {
	sorted := SortZones(zones)
	for _, z := range sorted {
		if z.MaxDistance == nil || distanceKm <= *z.MaxDistance {
			if z.Label == "" {
				z.Label = zoneLabel(z, sorted)
			}
			return z, nil
		}
	}
	return models.DeliveryZone{}, fmt.Errorf("%w: %.2f км", ErrNoZone, distanceKm)
}

func zoneLabel(z models.DeliveryZone, sorted models.DeliveryZones) string {
	if z.MaxDistance != nil {
		return fmt.Sprintf("до %s км", formatKm(*z.MaxDistance))
	}
	var farthest *float64
	for _, other := range sorted {
		if other.MaxDistance != nil {
			farthest = other.MaxDistance
		}
	}
	if farthest == nil {
		return "вся зона доставки"
	}
	return fmt.Sprintf("свыше %s км", formatKm(*farthest))
}

func formatKm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
