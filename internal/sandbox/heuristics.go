package sandbox

import "math"

// node holds minimal info for routing heuristics
type node struct {
	Lat float64
	Lng float64
}

// costMatrix returns haversine kilometres between nodes, weighted by the edge penalty when one is given.
func costMatrix(nodes []node, penalties [][]float64) [][]float64 {
	n := len(nodes)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			if i == j {
				continue
			}
			d := haversineKm(nodes[i].Lat, nodes[i].Lng, nodes[j].Lat, nodes[j].Lng)
			if len(penalties) == n && len(penalties[i]) == n && penalties[i][j] >= 1 {
				d *= penalties[i][j]
			}
			out[i][j] = d
		}
	}
	return out
}

// nearestNeighbour builds an open path from start, always visiting the cheapest unvisited node next.
func nearestNeighbour(cost [][]float64, start int) []int {
	n := len(cost)
	seen := make([]bool, n)
	order := make([]int, 0, n)
	cur := start
	seen[cur] = true
	order = append(order, cur)
	for len(order) < n {
		next, best := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if !seen[j] && cost[cur][j] < best {
				next, best = j, cost[cur][j]
			}
		}
		seen[next] = true
		order = append(order, next)
		cur = next
	}
	return order
}

// improve2Opt applies 2-opt moves that shorten the path. The first node stays fixed; the tail may move.
func improve2Opt(cost [][]float64, order []int, iterations int) []int {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	bestCost := pathCost(cost, best)
	n := len(order)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 1; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				c := pathCost(cost, cand)
				if c+1e-9 < bestCost {
					best, bestCost = cand, c
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

func pathCost(cost [][]float64, order []int) float64 {
	total := 0.0
	for i := 0; i < len(order)-1; i++ {
		total += cost[order[i]][order[i+1]]
	}
	return total
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
