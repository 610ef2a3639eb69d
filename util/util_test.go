package util_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/relacs/relacsd/util"
)

func ExampleClamp() {
	fmt.Println(util.Clamp(15, 0, 10))
	fmt.Println(util.Clamp(-3, 0, 10))
	fmt.Println(util.Clamp(5, 0, 10))
	// Output:
	// 10
	// 0
	// 5
}

func TestSecsToDuration(t *testing.T) {
	if got := util.SecsToDuration(0.5); got != 500*time.Millisecond {
		t.Errorf("SecsToDuration(0.5)==%v, want 500ms", got)
	}
}

func TestMergeErrors(t *testing.T) {
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("MergeErrors of nils==%v, want nil", err)
	}
	err := util.MergeErrors([]error{errors.New("a"), nil, errors.New("b")})
	if err == nil || err.Error() != "a\nb" {
		t.Errorf("MergeErrors==%v, want a\\nb", err)
	}
}
