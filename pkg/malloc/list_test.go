// Copyright 2026 Anasvag575
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBlock(id int) *pageBlock {
	return &pageBlock{sizeClass: id}
}

func listOrder(l *classList) []int {
	var out []int
	for b := l.head; b != nil; b = b.next {
		out = append(out, b.sizeClass)
	}
	return out
}

func TestClassListInsertFrontAndTail(t *testing.T) {
	var l classList
	a, b, c := newTestBlock(1), newTestBlock(2), newTestBlock(3)

	l.insertFront(a)
	require.Equal(t, []int{1}, listOrder(&l))
	require.Equal(t, a, l.head)
	require.Equal(t, a, l.tail)

	l.insertFront(b)
	require.Equal(t, []int{2, 1}, listOrder(&l))

	l.insertTail(c)
	require.Equal(t, []int{2, 1, 3}, listOrder(&l))
	require.Equal(t, c, l.tail)
}

func TestClassListRemove(t *testing.T) {
	var l classList
	a, b, c := newTestBlock(1), newTestBlock(2), newTestBlock(3)
	l.insertTail(a)
	l.insertTail(b)
	l.insertTail(c)

	l.remove(b) // middle
	require.Equal(t, []int{1, 3}, listOrder(&l))

	l.remove(a) // head
	require.Equal(t, []int{3}, listOrder(&l))
	require.Equal(t, c, l.head)
	require.Equal(t, c, l.tail)

	l.remove(c) // last element
	require.Nil(t, l.head)
	require.Nil(t, l.tail)
}

func TestClassListRemoveFrontAndTail(t *testing.T) {
	var l classList
	a, b, c := newTestBlock(1), newTestBlock(2), newTestBlock(3)
	l.insertTail(a)
	l.insertTail(b)
	l.insertTail(c)

	require.Equal(t, a, l.removeFront())
	require.Equal(t, []int{2, 3}, listOrder(&l))

	require.Equal(t, c, l.removeTail())
	require.Equal(t, []int{2}, listOrder(&l))

	require.Equal(t, b, l.removeFront())
	require.Nil(t, l.head)
	require.Nil(t, l.tail)
	require.Nil(t, l.removeFront())
	require.Nil(t, l.removeTail())
}
