package train

import "math"

// solveCholesky 解对称正定方程组 A x = b（A 会被读取但不修改）。
// 对角元非正时用一个极小值代替，保证病态输入下仍然返回有限解。
func solveCholesky(A [][]float64, b []float64) []float64 {
	n := len(b)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, i+1)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					sum = 1e-10
				}
				L[i][i] = math.Sqrt(sum)
			} else {
				L[i][j] = sum / L[j][j]
			}
		}
	}

	// L z = b
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= L[i][j] * z[j]
		}
		z[i] = sum / L[i][i]
	}

	// Lᵀ x = z
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for j := i + 1; j < n; j++ {
			sum -= L[j][i] * x[j]
		}
		x[i] = sum / L[i][i]
	}
	return x
}

// ridgeSolve 解 (Σ v vᵀ + λI) x = Σ r v，vs 与 rs 一一对应。
func ridgeSolve(vs [][]float64, rs []float64, factors int, lambda float64) []float64 {
	A := make([][]float64, factors)
	for f := range A {
		A[f] = make([]float64, factors)
		A[f][f] = lambda
	}
	b := make([]float64, factors)
	for idx, v := range vs {
		r := rs[idx]
		for f1 := 0; f1 < factors; f1++ {
			for f2 := 0; f2 <= f1; f2++ {
				A[f1][f2] += v[f1] * v[f2]
			}
			b[f1] += r * v[f1]
		}
	}
	// 只累加了下三角，补齐上三角
	for f1 := 0; f1 < factors; f1++ {
		for f2 := 0; f2 < f1; f2++ {
			A[f2][f1] = A[f1][f2]
		}
	}
	return solveCholesky(A, b)
}
