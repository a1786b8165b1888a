package scanning

import (
	"context"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Remote", func() {
	var (
		server    *ghttp.Server
		extractor *Remote
		doc       Document
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		extractor, err = NewRemote(server.URL(), 0)
		Expect(err).NotTo(HaveOccurred())
		doc = Document{
			Filename:    "pedido.jpg",
			ContentType: "image/jpeg",
			Data:        []byte("fake jpeg"),
			Unit:        "Goiânia Centro",
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires a base url", func() {
		_, err := NewRemote("", 0)
		Expect(err).To(HaveOccurred())
	})

	When("the service answers with lines", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/ocr"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					Expect(r.FormValue("unit")).To(Equal("Goiânia Centro"))
					f, header, err := r.FormFile("file")
					Expect(err).NotTo(HaveOccurred())
					defer f.Close()
					Expect(header.Filename).To(Equal("pedido.jpg"))
					data, _ := io.ReadAll(f)
					Expect(string(data)).To(Equal("fake jpeg"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"text": "Glicose\nTGO",
					"lines": []map[string]any{
						{"original": "Glicose", "corrected": "Glicose", "confidence": 0.95, "method": "none"},
						{"original": "T G O", "corrected": "TGO", "confidence": 0.7, "method": "acronym_rule"},
					},
					"confidence": 0.82,
					"stats":      map[string]any{"total_ocr_lines": 2},
					"model_used": "vision-v2",
				}),
			))
		})

		It("returns the extraction", func() {
			extraction, err := extractor.Extract(context.Background(), doc)
			Expect(err).NotTo(HaveOccurred())
			Expect(extraction.Lines).To(HaveLen(2))
			Expect(extraction.Lines[1].Corrected).To(Equal("TGO"))
			Expect(extraction.Lines[1].Method).To(Equal(MethodAcronymRule))
			Expect(extraction.Confidence).To(Equal(0.82))
			Expect(extraction.ModelUsed).To(Equal("vision-v2"))
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the service reports an error in the body", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"error": "Pipeline Error",
				"lines": []any{},
			}))
		})

		It("returns the error", func() {
			_, err := extractor.Extract(context.Background(), doc)
			Expect(err).To(MatchError(ContainSubstring("Pipeline Error")))
		})
	})

	When("the service fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, `{"error": "OCR Processor Init Failed"}`))
		})

		It("returns the status and message", func() {
			_, err := extractor.Extract(context.Background(), doc)
			Expect(err).To(MatchError(ContainSubstring("status 503")))
			Expect(err).To(MatchError(ContainSubstring("OCR Processor Init Failed")))
		})
	})

	When("the service answers with something other than JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>oops</html>"))
		})

		It("returns a decoding error", func() {
			_, err := extractor.Extract(context.Background(), doc)
			Expect(err).To(MatchError(ContainSubstring("decoding ocr response")))
		})
	})
})

var _ = Describe("ParseCorrectionMethod", func() {
	DescribeTable("normalizes wire values",
		func(in string, want CorrectionMethod) {
			Expect(ParseCorrectionMethod(in)).To(Equal(want))
		},
		Entry("acronym", "acronym_rule", MethodAcronymRule),
		Entry("context with spaces", " context_rule ", MethodContextRule),
		Entry("ai in caps", "AI_CORRECTION", MethodAICorrection),
		Entry("empty", "", MethodNone),
		Entry("unknown", "emergency_llm", MethodNone),
	)
})

var _ = Describe("isHEIC", func() {
	It("detects HEIC by MIME type", func() {
		Expect(isHEIC(nil, "image/heic")).To(BeTrue())
	})

	It("detects HEIC by ftyp brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEIC(data, "application/octet-stream")).To(BeTrue())
	})

	It("ignores short or unrelated data", func() {
		Expect(isHEIC([]byte("jpeg"), "image/jpeg")).To(BeFalse())
	})
})
