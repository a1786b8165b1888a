package order

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "orders"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name      string
			savedName string
			err       error
		)

		BeforeEach(func() {
			name = "order-1_pedido.jpg"
		})

		JustBeforeEach(func() {
			savedName, err = storage.Save(name, []byte("image"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored name", func() {
				Expect(savedName).To(Equal(name))
			})

			It("should write the file inside the storage directory", func() {
				Expect(filepath.Join(tmpDir, "orders", name)).To(BeAnExistingFile())
			})
		})

		When("the name points outside the directory", func() {
			BeforeEach(func() {
				name = "../escape.jpg"
			})

			It("should keep the file inside the storage directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedName).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
				Expect(filepath.Join(tmpDir, "orders", "escape.jpg")).To(BeAnExistingFile())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				name = ""
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			It("should return its contents", func() {
				_, err := storage.Save("a.png", []byte("png data"))
				Expect(err).NotTo(HaveOccurred())

				data, err := storage.Get("a.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("png data"))
			})
		})

		When("the file does not exist", func() {
			It("should return an error", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save("a.png", []byte("png data"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("a.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "orders", "a.png")).NotTo(BeAnExistingFile())
		})

		It("should not fail for missing files", func() {
			Expect(storage.Delete("missing.png")).To(Succeed())
		})
	})
})
