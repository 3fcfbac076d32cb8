package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("cleanTranscript", func() {
	It("should strip markdown code fences", func() {
		Expect(cleanTranscript("```text\nCOUNTDOWN\nMilk 2L $5.99\n```")).To(Equal("COUNTDOWN\nMilk 2L $5.99"))
	})

	It("should collapse spacing and drop blank lines", func() {
		Expect(cleanTranscript("  Milk   2L    $5.99 \n\n\nTOTAL  $5.99")).To(Equal("Milk 2L $5.99\nTOTAL $5.99"))
	})

	It("should turn the no-text marker into an empty transcript", func() {
		Expect(cleanTranscript(" NO_TEXT \n")).To(BeEmpty())
	})
})
