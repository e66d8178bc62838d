package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSkipsNil(t *testing.T) {
	var errs Errors
	errs = Append(errs, nil)
	require.Nil(t, errs)

	first := New("first")
	errs = Append(errs, first)
	errs = Append(errs, nil)
	require.Equal(t, []error{first}, errs.Slice())
}

func TestAppendFlattens(t *testing.T) {
	a, b, c, d := New("a"), New("b"), New("c"), New("d")

	var ab, cd Errors
	ab = Append(Append(ab, a), b)
	cd = Append(Append(cd, c), d)

	all := Append(ab, cd)
	require.Equal(t, 4, all.Len())
	assert.Equal(t, []error{a, b, c, d}, all.Slice())
	assert.Equal(t, "a\nb\nc\nd", all.Error())
}

func TestAppendDoesNotShareStorage(t *testing.T) {
	a, b, c := New("a"), New("b"), New("c")

	base := Append(nil, a)
	withB := Append(base, b)
	withC := Append(base, c)

	assert.Equal(t, []error{a, b}, withB.Slice())
	assert.Equal(t, []error{a, c}, withC.Slice())
	assert.Equal(t, 1, base.Len())
}

func TestCombine(t *testing.T) {
	a, b, c := New("a"), New("b"), New("c")

	assert.Nil(t, Combine(nil, nil))
	assert.Equal(t, a, Combine(a, nil))
	assert.Equal(t, a, Combine(nil, a))

	pair, ok := Combine(a, b).(Errors)
	require.True(t, ok)
	assert.Equal(t, []error{a, b}, pair.Slice())

	triple := Combine(pair, c).(Errors)
	assert.Equal(t, []error{a, b, c}, triple.Slice())
	assert.Equal(t, []error{a, b}, pair.Slice())
}

func TestDefer(t *testing.T) {
	closeErr := New("close failed")
	run := func(body error) (err error) {
		defer Defer(&err, func() error { return closeErr })
		return body
	}

	assert.Equal(t, closeErr, run(nil))

	errs, ok := run(New("write failed")).(Errors)
	require.True(t, ok)
	assert.Equal(t, 2, errs.Len())
}

func TestErrorsKind(t *testing.T) {
	var errs Errors
	errs = Append(errs, New("plain"))
	assert.Equal(t, KindUnknown, errs.Kind())

	errs = Append(errs, Configf("embedding_dimension is 0"))
	errs = Append(errs, Contractf("batch is empty"))
	assert.Equal(t, KindConfig, errs.Kind())
	assert.True(t, IsConfig(errs))
	assert.True(t, IsConfig(WrapfOrNil(errs, "loading hyperparameters")))
}
