package id_test

import (
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taxrelay.app/relay/common/id"
)

var _ = Describe("id", func() {
	BeforeEach(func() {
		Expect(id.Init(7)).To(Succeed())
	})

	It("generates increasing snowflake ids", func() {
		first := id.New()
		second := id.New()
		Expect(first).To(BeNumerically(">", 0))
		Expect(second).To(BeNumerically(">", first))
	})

	It("generates distinct uuid delivery ids", func() {
		a := id.NewDeliveryID()
		b := id.NewDeliveryID()
		Expect(a).ToNot(Equal(b))
		_, err := uuid.Parse(a)
		Expect(err).ToNot(HaveOccurred())
	})
})
