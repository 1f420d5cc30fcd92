package priority

import "sort"

func sortByShedOrder(ids []string, c Classifications) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := c[ids[i]], c[ids[j]]
		if a.ShedOrder != b.ShedOrder {
			return a.ShedOrder < b.ShedOrder
		}
		return ids[i] < ids[j]
	})
}
