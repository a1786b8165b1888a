package reconcile

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/zombor/exam-quote/internal/catalog"
)

type searchOutcome struct {
	results []catalog.Match
	err     error
}

var _ = Describe("Manual search", func() {
	var (
		cat      *mockCatalog
		workflow *Workflow
		ctx      context.Context
	)

	searchAsync := func(itemID int, term string) chan searchOutcome {
		done := make(chan searchOutcome, 1)
		go func() {
			results, err := workflow.Search(ctx, itemID, term)
			done <- searchOutcome{results: results, err: err}
		}()
		Eventually(cat.started).Should(Receive(Equal(term)))
		return done
	}

	BeforeEach(func() {
		cat = newMockCatalog()
		cat.batch = batch(
			answer("Glicose", catalog.StatusConfirmed, match("1", "Glicose", 10)),
			answer("TGO", catalog.StatusMultiple, match("2", "TGO", 12), match("3", "AST", 15)),
			answer("XYZ123", catalog.StatusNotFound),
		)
		cat.results["hemo"] = []catalog.Match{match("10", "HEMOGRAMA COMPLETO", 25), match("11", "HEMOGLOBINA GLICADA", 30)}
		cat.results["tsh"] = []catalog.Match{match("20", "TSH", 18)}
		workflow = NewWorkflowWithDeps(cat, &mockLearner{}, "Goiânia Centro", rate.Inf)
		ctx = context.Background()

		_, err := workflow.Reconcile(ctx, []string{"Glicose", "TGO", "XYZ123"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Search", func() {
		It("returns the catalog results for the item's unit", func() {
			results, err := workflow.Search(ctx, 3, " hemo ")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(cat.searches).To(Equal([]searchCall{{unit: "Goiânia Centro", term: "hemo"}}))

			stored, err := workflow.SearchResults(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(Equal(results))
		})

		DescribeTable("skips the catalog for short terms",
			func(term string) {
				results, err := workflow.Search(ctx, 3, term)
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(BeEmpty())
				Expect(cat.searchCount()).To(BeZero())
			},
			Entry("empty", ""),
			Entry("one letter", "h"),
			Entry("one letter with spaces", "  h  "),
			Entry("one accented letter", "é"),
		)

		It("requires an open search", func() {
			_, err := workflow.Search(ctx, 2, "tgo")
			Expect(err).To(MatchError(ErrSearchClosed))

			Expect(workflow.OpenSearch(2)).To(Succeed())
			_, err = workflow.Search(ctx, 2, "tsh")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects unknown items", func() {
			_, err := workflow.Search(ctx, 42, "hemo")
			Expect(err).To(MatchError(ErrItemNotFound))
		})

		When("the catalog fails", func() {
			It("returns a SearchError and leaves the results empty", func() {
				cat.searchErr = errors.New("catalog down")
				_, err := workflow.Search(ctx, 3, "hemo")

				var searchErr *SearchError
				Expect(errors.As(err, &searchErr)).To(BeTrue())
				Expect(searchErr.ItemID).To(Equal(3))
				Expect(searchErr.Term).To(Equal("hemo"))

				results, err := workflow.SearchResults(3)
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(BeEmpty())

				item, err := workflow.Item(3)
				Expect(err).NotTo(HaveOccurred())
				Expect(item.Status).To(Equal(catalog.StatusNotFound))
			})
		})

		When("a search for the item is outstanding", func() {
			var (
				gate chan struct{}
				done chan searchOutcome
			)

			BeforeEach(func() {
				gate = cat.gate("hemo")
				done = searchAsync(3, "hemo")
			})

			AfterEach(func() {
				select {
				case <-gate:
				default:
					close(gate)
				}
			})

			It("rejects a second search on the same item", func() {
				_, err := workflow.Search(ctx, 3, "tsh")
				Expect(err).To(MatchError(ErrSearchInFlight))

				close(gate)
				var outcome searchOutcome
				Eventually(done).Should(Receive(&outcome))
				Expect(outcome.err).NotTo(HaveOccurred())
			})

			It("rejects attaching to the same item", func() {
				_, err := workflow.Attach(3, match("20", "TSH", 18))
				Expect(err).To(MatchError(ErrSearchInFlight))
			})

			It("lets other items search at the same time", func() {
				Expect(workflow.OpenSearch(2)).To(Succeed())
				results, err := workflow.Search(ctx, 2, "tsh")
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(1))

				close(gate)
				var outcome searchOutcome
				Eventually(done).Should(Receive(&outcome))
				Expect(outcome.results).To(HaveLen(2))

				tgoResults, err := workflow.SearchResults(2)
				Expect(err).NotTo(HaveOccurred())
				Expect(tgoResults).To(Equal(results))
				xyzResults, err := workflow.SearchResults(3)
				Expect(err).NotTo(HaveOccurred())
				Expect(xyzResults).To(HaveLen(2))
			})

			It("discards the response when the item is removed", func() {
				Expect(workflow.Remove(3)).To(Succeed())
				close(gate)

				var outcome searchOutcome
				Eventually(done).Should(Receive(&outcome))
				Expect(outcome.err).To(MatchError(ErrStaleSearch))
				Expect(workflow.Items()).To(HaveLen(2))
			})

			It("discards the response when the search is reopened", func() {
				Expect(workflow.OpenSearch(3)).To(Succeed())
				close(gate)

				var outcome searchOutcome
				Eventually(done).Should(Receive(&outcome))
				Expect(outcome.err).To(MatchError(ErrStaleSearch))

				results, err := workflow.SearchResults(3)
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(BeEmpty())
			})

			It("discards the response when the list is validated again", func() {
				_, err := workflow.Reconcile(ctx, []string{"Glicose", "TGO", "XYZ123"})
				Expect(err).NotTo(HaveOccurred())
				close(gate)

				var outcome searchOutcome
				Eventually(done).Should(Receive(&outcome))
				Expect(outcome.err).To(MatchError(ErrStaleSearch))
			})
		})

		It("throttles repeated searches for the same item", func() {
			workflow = NewWorkflowWithDeps(cat, &mockLearner{}, "Goiânia Centro", rate.Every(50*time.Millisecond))
			_, err := workflow.Reconcile(ctx, []string{"Glicose", "TGO", "XYZ123"})
			Expect(err).NotTo(HaveOccurred())

			start := time.Now()
			for _, term := range []string{"he", "hem", "hemo"} {
				_, err := workflow.Search(ctx, 3, term)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(time.Since(start)).To(BeNumerically(">=", 90*time.Millisecond))
			Expect(cat.searchCount()).To(Equal(3))
		})
	})

	Describe("Attach", func() {
		It("appends the match, selects it and closes the search", func() {
			item, err := workflow.Attach(3, match("20", "TSH", 18))
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Status).To(Equal(catalog.StatusConfirmed))
			Expect(item.Candidates).To(HaveLen(1))
			Expect(item.Selected).To(HaveValue(Equal(0)))

			_, err = workflow.SearchResults(3)
			Expect(err).To(MatchError(ErrSearchClosed))
		})

		It("never replaces existing candidates", func() {
			Expect(workflow.OpenSearch(2)).To(Succeed())
			item, err := workflow.Attach(2, match("20", "TSH", 18))
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Candidates).To(HaveLen(3))
			Expect(item.Candidates[0].Name).To(Equal("TGO"))
			Expect(item.Candidates[1].Name).To(Equal("AST"))
			Expect(item.Candidates[2].Name).To(Equal("TSH"))
			Expect(item.Selected).To(HaveValue(Equal(2)))
		})

		It("copies the same match into different items", func() {
			m := match("20", "TSH", 18)
			_, err := workflow.Attach(3, m)
			Expect(err).NotTo(HaveOccurred())
			manual := workflow.AddManual()
			_, err = workflow.Attach(manual.ID, m)
			Expect(err).NotTo(HaveOccurred())

			_, err = workflow.Select(3, 0)
			Expect(err).NotTo(HaveOccurred())
			items := workflow.Items()
			Expect(items[2].Candidates).To(HaveLen(1))
			Expect(items[3].Candidates).To(HaveLen(1))
		})

		It("rejects unknown items", func() {
			_, err := workflow.Attach(42, match("20", "TSH", 18))
			Expect(err).To(MatchError(ErrItemNotFound))
		})
	})

	Describe("AttachResult", func() {
		It("attaches one of the item's search results", func() {
			_, err := workflow.Search(ctx, 3, "hemo")
			Expect(err).NotTo(HaveOccurred())

			item, err := workflow.AttachResult(3, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Candidates).To(HaveLen(1))
			Expect(item.Candidates[0].Name).To(Equal("HEMOGLOBINA GLICADA"))
			Expect(item.Status).To(Equal(catalog.StatusConfirmed))
		})

		It("rejects result indexes outside the results", func() {
			_, err := workflow.Search(ctx, 3, "tsh")
			Expect(err).NotTo(HaveOccurred())

			_, err = workflow.AttachResult(3, 1)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
		})

		It("never uses another item's results", func() {
			Expect(workflow.OpenSearch(2)).To(Succeed())
			_, err := workflow.Search(ctx, 2, "hemo")
			Expect(err).NotTo(HaveOccurred())

			_, err = workflow.AttachResult(3, 0)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
		})
	})

	Describe("CancelSearch", func() {
		It("closes the search of an item with candidates and keeps its state", func() {
			Expect(workflow.OpenSearch(2)).To(Succeed())
			before, err := workflow.Item(2)
			Expect(err).NotTo(HaveOccurred())

			Expect(workflow.CancelSearch(2)).To(Succeed())

			after, err := workflow.Item(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
			_, err = workflow.SearchResults(2)
			Expect(err).To(MatchError(ErrSearchClosed))
		})

		It("keeps the search of an unmatched item open", func() {
			_, err := workflow.Search(ctx, 3, "hemo")
			Expect(err).NotTo(HaveOccurred())

			Expect(workflow.CancelSearch(3)).To(Succeed())

			results, err := workflow.SearchResults(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("rejects unknown items", func() {
			Expect(workflow.CancelSearch(42)).To(MatchError(ErrItemNotFound))
		})
	})
})
