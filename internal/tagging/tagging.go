// Package tagging distribui os eventos de cada tipo de entidade entre N tags fixas.
// Todos os eventos de um mesmo id caem sempre na mesma tag, então um único worker
// de projeção consome esses eventos na ordem em que foram persistidos.
package tagging

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Tag devolve "<tipo>-tag-<hash(id) mod n>"
func Tag(entityType, entityID string, n int) string {
	if n <= 0 {
		n = 1
	}
	return name(entityType, int(xxhash.Sum64String(entityID)%uint64(n)))
}

// Tags lista todas as tags de um tipo de entidade
func Tags(entityType string, n int) []string {
	if n <= 0 {
		n = 1
	}
	out := make([]string, n)
	for i := range out {
		out[i] = name(entityType, i)
	}
	return out
}

// Tagger fixa tipo e quantidade de tags
func Tagger(entityType string, n int) func(entityID string) string {
	return func(entityID string) string { return Tag(entityType, entityID, n) }
}

func name(entityType string, i int) string {
	return entityType + "-tag-" + strconv.Itoa(i)
}
