package loccache_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestLocCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LocCache Suite")
}
