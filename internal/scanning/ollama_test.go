package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func samplePNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		doc       Document
		result    *Extraction
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		extractor, err = NewOllama(server.URL(), "qwen2-vl")
		Expect(err).NotTo(HaveOccurred())
		doc = Document{Filename: "pedido.png", ContentType: "image/png", Data: samplePNG()}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		result, err = extractor.Extract(context.Background(), doc)
	})

	When("the model answers with order lines", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/chat"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("qwen2-vl"))
					Expect(req.Format).To(Equal("json"))
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(doc.Data)))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `{"lines": [{"original": "TG0", "corrected": "TGO", "confidence": 0.8, "method": "acronym_rule"}]}`,
					},
					Done: true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the parsed lines", func() {
			Expect(result.Lines).To(HaveLen(1))
			Expect(result.Lines[0].Corrected).To(Equal("TGO"))
			Expect(result.Lines[0].Method).To(Equal(MethodAcronymRule))
		})

		It("should record the model", func() {
			Expect(result.ModelUsed).To(Equal("ollama/qwen2-vl"))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("should return the status and body", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the image cannot be decoded", func() {
		BeforeEach(func() {
			doc.ContentType = "image/jpeg"
			doc.Data = []byte("not an image")
		})

		It("should fail before calling the model", func() {
			Expect(err).To(HaveOccurred())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("toPNG", func() {
	It("should pass PNG uploads through", func() {
		data := samplePNG()
		out, err := toPNG(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("should convert JPEG uploads", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil)).To(Succeed())

		out, err := toPNG(buf.Bytes(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		_, format, err := image.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
	})

	It("should reject unknown formats", func() {
		_, err := toPNG([]byte("plain text"), "text/plain")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = DescribeTable("isHEIC",
	func(data []byte, mimeType string, expected bool) {
		Expect(isHEIC(data, mimeType)).To(Equal(expected))
	},
	Entry("by MIME type", nil, "image/heic", true),
	Entry("by ftyp brand", []byte("\x00\x00\x00\x18ftypheic"), "", true),
	Entry("mif1 brand", []byte("\x00\x00\x00\x18ftypmif1"), "application/octet-stream", true),
	Entry("JPEG data", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "image/jpeg", false),
	Entry("short data", []byte("ftyp"), "", false),
)
