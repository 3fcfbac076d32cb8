package grocery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/savings"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

func uploadBody(filename, contentType string, data []byte, store string) (*bytes.Buffer, string) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	if filename != "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		part, _ := writer.CreatePart(header)
		part.Write(data)
	}
	if store != "" {
		writer.WriteField("store", store)
	}
	writer.Close()
	return &b, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		timeSrc     *mockTimeSource
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(
			db,
			extractor,
			storage,
			parsing.NewParser(parsing.DefaultCatalog()),
			savings.NewAnalyzerWithTimeSource(30, timeSrc),
			NewOfferRewards(db),
			&sequenceIDGenerator{prefix: "id"},
			timeSrc,
		)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{text: receiptText}
		timeSrc = &mockTimeSource{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				db.receipts["id1"] = &Receipt{ID: "id1"}
				db.receipts["id2"] = &Receipt{ID: "id2"}
			})

			It("should return all receipts as JSON", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var receipts []*Receipt
				decodeBody(resp, &receipts)
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("service returns an error", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("should return status Internal Server Error without leaking the cause", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(Equal("Internal server error"))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		When("upload succeeds", func() {
			It("should return the parsed receipt", func() {
				b, contentType := uploadBody("receipt.jpg", "image/jpeg", []byte("fake image data"), "")
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var receipt Receipt
				decodeBody(resp, &receipt)
				Expect(receipt.ID).To(Equal("id-1"))
				Expect(*receipt.StoreName).To(Equal("Moore Wilson's"))
				Expect(receipt.Items).To(HaveLen(2))
			})
		})

		When("the part has no content type", func() {
			It("should infer it from the extension", func() {
				b, contentType := uploadBody("receipt.eml", "", []byte("From: shop@example.com\r\n\r\nMilk $3.20"), "")
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, b)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(extractor.lastContentType).To(Equal("message/rfc822"))
			})
		})

		When("a store is given", func() {
			It("should use it", func() {
				b, contentType := uploadBody("receipt.png", "image/png", []byte("png"), "four square")
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var receipt Receipt
				decodeBody(resp, &receipt)
				Expect(*receipt.StoreName).To(Equal("Four Square"))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				b, contentType := uploadBody("", "", nil, "")
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(ContainSubstring("file"))
			})
		})

		When("invalid multipart form", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(Equal("Error parsing form"))
			})
		})

		When("the document type is unsupported", func() {
			BeforeEach(func() {
				extractor.extractErr = scanning.ErrUnsupportedContent
			})

			It("should return status Bad Request", func() {
				b, contentType := uploadBody("archive.zip", "application/zip", []byte("PK"), "")
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, b)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("text extraction fails unexpectedly", func() {
			BeforeEach(func() {
				extractor.extractErr = errors.New("provider down")
			})

			It("should return status Internal Server Error", func() {
				b, contentType := uploadBody("receipt.jpg", "image/jpeg", []byte("jpg"), "")
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", contentType, b)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleCreateReceiptFromText", func() {
		It("should parse the posted text", func() {
			body := `{"text":"Countdown\nMilk $3.20\nTotal $3.20"}`
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/text", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(*receipt.StoreName).To(Equal("Countdown"))
			Expect(receipt.Total.StringFixed(2)).To(Equal("3.20"))
		})

		It("should reject blank text", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/text", "application/json", strings.NewReader(`{"text":"  "}`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject invalid JSON", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts/text", "application/json", strings.NewReader(`{`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", RawText: "Milk $3.20"}
		})

		It("should return the receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.RawText).To(Equal("Milk $3.20"))
		})

		It("should return Not Found for unknown receipts", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/missing")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetReceiptFile", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "test-file.jpg", ContentType: "image/jpeg"}
			db.receipts["text-id"] = &Receipt{ID: "text-id"}
			storage.files["test-file.jpg"] = []byte("file data")
		})

		It("should return the file with its content type", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("file data"))
		})

		It("should return Not Found for text receipts", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/text-id/file")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("the file is missing from storage", func() {
			BeforeEach(func() {
				delete(storage.files, "test-file.jpg")
			})

			It("should return Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id/file")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id"}
		})

		It("should return No Content and remove the receipt", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/test-id", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).NotTo(HaveKey("test-id"))
		})

		It("should return Not Found for unknown receipts", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/missing", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleAnalyzeReceipt", func() {
		BeforeEach(func() {
			now := timeSrc.now
			db.receipts["r1"] = &Receipt{ID: "r1", ParsedReceipt: parsing.NewParser(parsing.DefaultCatalog()).Parse(receiptText)}
			db.points = []*PricePoint{
				storedPoint("p1", "r0", "Organic Bananas", "3.80", "Countdown", now.AddDate(0, 0, -3)),
			}
		})

		It("should return the savings found", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1/analysis")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var analysis ReceiptAnalysis
			decodeBody(resp, &analysis)
			Expect(analysis.ReceiptID).To(Equal("r1"))
			Expect(analysis.Analysis.TotalSavings.StringFixed(2)).To(Equal("0.70"))
			Expect(*analysis.Analysis.RecommendedStore).To(Equal("Countdown"))
		})
	})

	Describe("handleExportAnalysis", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", ParsedReceipt: parsing.NewParser(parsing.DefaultCatalog()).Parse(receiptText)}
		})

		It("should download a spreadsheet by default", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("savings-r1.xlsx"))
		})

		It("should download a PDF", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1/export?format=pdf")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
			Expect(string(body)).To(HavePrefix("%PDF"))
		})

		It("should reject unknown formats", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/r1/export?format=csv")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("price endpoints", func() {
		BeforeEach(func() {
			now := timeSrc.now
			db.points = []*PricePoint{
				storedPoint("p1", "", "Whole Milk", "3.50", "Countdown", now.AddDate(0, 0, -2)),
				storedPoint("p2", "", "Whole Milk", "3.20", "Pak'nSave", now.AddDate(0, 0, -40)),
			}
		})

		It("should list items", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/prices")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var items []string
			decodeBody(resp, &items)
			Expect(items).To(Equal([]string{"whole milk"}))
		})

		It("should return history within the requested window", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/prices/whole%20milk/history?days=60")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var history []map[string]any
			decodeBody(resp, &history)
			Expect(history).To(HaveLen(2))
		})

		It("should reject an invalid window", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/prices/whole%20milk/history?days=soon")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should compare stores", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/prices/whole%20milk/stores")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var comparisons []map[string]any
			decodeBody(resp, &comparisons)
			Expect(comparisons).To(HaveLen(1))
			Expect(comparisons[0]["store_name"]).To(Equal("Countdown"))
		})

		It("should return the best recent price", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/prices/whole%20milk/best")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var best map[string]any
			decodeBody(resp, &best)
			Expect(best["store_name"]).To(Equal("Countdown"))
		})

		It("should return Not Found without recent prices", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/prices/cheese/best")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleRecordObservation", func() {
		It("should store the observation", func() {
			body := `{"item_name":"Whole Milk","price":"3.10","store_name":"new world"}`
			resp, err := http.Post(ghttpServer.URL()+"/api/observations", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.points).To(HaveLen(1))
			Expect(db.points[0].StoreName).To(Equal("New World"))
		})

		It("should reject invalid observations", func() {
			body := `{"item_name":"Whole Milk","price":"-1","store_name":"New World"}`
			resp, err := http.Post(ghttpServer.URL()+"/api/observations", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("cashback offer endpoints", func() {
		It("should create an active offer by default", func() {
			body := `{"store_name":"Countdown","discount_percentage":"5"}`
			resp, err := http.Post(ghttpServer.URL()+"/api/cashback-offers", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.offers).To(HaveLen(1))
			Expect(db.offers[0].Active).To(BeTrue())
		})

		It("should keep an explicit inactive flag", func() {
			body := `{"store_name":"Countdown","discount_amount":"1.00","active":false}`
			resp, err := http.Post(ghttpServer.URL()+"/api/cashback-offers", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(db.offers[0].Active).To(BeFalse())
		})

		It("should reject offers without a discount", func() {
			body := `{"store_name":"Countdown"}`
			resp, err := http.Post(ghttpServer.URL()+"/api/cashback-offers", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("offers exist", func() {
			BeforeEach(func() {
				db.offers = []*CashbackOffer{{ID: "o1", StoreName: "Countdown", DiscountAmount: dec("1.00"), Active: true}}
			})

			It("should list them", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/cashback-offers")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var offers []*CashbackOffer
				decodeBody(resp, &offers)
				Expect(offers).To(HaveLen(1))
				Expect(offers[0].ID).To(Equal("o1"))
			})
		})
	})

	Describe("authenticate", func() {
		When("no auth is configured", func() {
			It("should return true", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
			})

			It("should accept valid credentials", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
				Expect(server.authenticate(req)).To(BeTrue())
			})

			It("should reject invalid credentials", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("should reject a missing header", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("should challenge unauthenticated API requests", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Grocery Tracker"))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})

			It("should leave the health check open", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})

			It("should leave metrics open", func() {
				resp, err := http.Get(ghttpServer.URL() + "/metrics")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})
})
