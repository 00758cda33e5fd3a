package cost_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shieldx-bot/tenant-platform/internal/cost"
)

var _ = Describe("Unit normalization", func() {
	DescribeTable("CPU to cores",
		func(in string, want float64) {
			Expect(cost.CPUCores(in)).To(BeNumerically("~", want, 1e-12))
		},
		Entry("millicores", "500m", 0.5),
		Entry("whole cores", "2", 2.0),
		Entry("fractional cores", "1.5", 1.5),
		Entry("fractional millicores", "250.5m", 0.2505),
		Entry("garbage", "abc", 0.0),
		Entry("empty", "", 0.0),
	)

	DescribeTable("memory and storage to GiB",
		func(in string, want float64) {
			Expect(cost.GiB(in)).To(BeNumerically("~", want, 1e-12))
		},
		Entry("gibibytes", "2Gi", 2.0),
		Entry("mebibytes", "1024Mi", 1.0),
		Entry("kibibytes", "1048576Ki", 1.0),
		Entry("tebibytes", "1Ti", 1024.0),
		Entry("raw bytes", "1073741824", 1.0),
		Entry("decimal suffix is not recognized", "1G", 0.0),
		Entry("milli-byte canonical form of 1.1Gi is not recognized", "1181116006400m", 0.0),
		Entry("garbage", "abc", 0.0),
	)

	It("reports why a quantity could not be parsed", func() {
		_, err := cost.ParseCPU("abc")
		Expect(err).To(MatchError(ContainSubstring(`"abc"`)))

		_, err = cost.ParseGiB("12Xi")
		Expect(err).To(HaveOccurred())

		_, err = cost.ParseGiB("NaNGi")
		Expect(err).To(HaveOccurred())
	})
})
