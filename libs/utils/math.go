package utils

import (
	"math"
	"sort"
)

// RoundHalfUp 四舍五入保留places位小数
// 先按places+3位截断再进位，避免0.00005这类值因为二进制误差被舍掉
func RoundHalfUp(x float64, places int) float64 {
	pow := math.Pow10(places)
	guard := math.Pow10(places + 3)
	scaled := math.Round(x*guard) / 1000
	if scaled >= 0 {
		return math.Floor(scaled+0.5) / pow
	}
	return -math.Floor(-scaled+0.5) / pow
}

func Max(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := data[0]
	for _, datum := range data {
		if datum > res {
			res = datum
		}
	}
	return res
}

func Min(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := data[0]
	for _, datum := range data {
		if datum < res {
			res = datum
		}
	}
	return res
}

// Median 不修改传入的slice
func Median(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func Avg(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := 0.0
	for _, datum := range data {
		res += datum
	}

	return res / float64(len(data))
}
